package blockdev

import (
	"fmt"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/bootmend/bootmend/internal/log"
)

const (
	// DBus service and interface constants
	dbusService       = "org.freedesktop.UDisks2"
	dbusRootPath      = "/org/freedesktop/UDisks2"
	dbusObjectManager = "org.freedesktop.DBus.ObjectManager"

	dbusBlockInterface     = "org.freedesktop.UDisks2.Block"
	dbusPartitionInterface = "org.freedesktop.UDisks2.Partition"
	dbusLoopInterface      = "org.freedesktop.UDisks2.Loop"
)

// UDisksEnumerator implements Enumerator using the UDisks2 DBus API
type UDisksEnumerator struct {
	conn      DBusConnection
	connectFn func() (DBusConnection, error) // for reconnection
}

// UDisksOption is a functional option for UDisksEnumerator
type UDisksOption func(*UDisksEnumerator)

// WithConnection sets a custom DBus connection (for testing)
func WithConnection(conn DBusConnection) UDisksOption {
	return func(e *UDisksEnumerator) {
		e.conn = conn
		e.connectFn = nil
	}
}

// NewUDisksEnumerator creates an enumerator backed by the system UDisks2 daemon
func NewUDisksEnumerator(opts ...UDisksOption) (*UDisksEnumerator, error) {
	e := &UDisksEnumerator{
		connectFn: ConnectSystemBus,
	}

	for _, opt := range opts {
		opt(e)
	}

	// Connect if no custom connection provided
	if e.conn == nil {
		conn, err := e.connectFn()
		if err != nil {
			return nil, fmt.Errorf("connect to system bus: %w", err)
		}
		e.conn = conn
	}

	return e, nil
}

// Close closes the DBus connection
func (e *UDisksEnumerator) Close() error {
	if e.conn != nil {
		return e.conn.Close()
	}
	return nil
}

// getManagedObjects calls GetManagedObjects on the ObjectManager interface
// Returns: map[ObjectPath]map[InterfaceName]map[PropertyName]Variant
func (e *UDisksEnumerator) getManagedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, error) {
	obj := e.conn.Object(dbusService, dbus.ObjectPath(dbusRootPath))

	var result map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	call := obj.Call(dbusObjectManager+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("GetManagedObjects: %w", call.Err)
	}

	if err := call.Store(&result); err != nil {
		return nil, fmt.Errorf("store GetManagedObjects result: %w", err)
	}

	return result, nil
}

// List returns a snapshot of all block devices, sorted by path
func (e *UDisksEnumerator) List() ([]BlockDevice, error) {
	log.Debug("enumerating block devices via udisks2")

	objects, err := e.getManagedObjects()
	if err != nil {
		return nil, fmt.Errorf("get managed objects: %w", err)
	}

	var devices []BlockDevice

	for path, interfaces := range objects {
		blockProps, ok := interfaces[dbusBlockInterface]
		if !ok {
			continue
		}
		if _, isLoop := interfaces[dbusLoopInterface]; isLoop {
			continue
		}

		dev, err := parseBlockFromProps(blockProps, interfaces[dbusPartitionInterface])
		if err != nil {
			log.Debug("skipping block object", "object", string(path), "error", err)
			continue
		}

		devices = append(devices, dev)
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Path < devices[j].Path
	})

	return devices, nil
}

// parseBlockFromProps creates a BlockDevice from the Block interface
// property map, plus the Partition interface properties when present
func parseBlockFromProps(block, partition map[string]dbus.Variant) (BlockDevice, error) {
	dev := BlockDevice{}

	// Device (required) - a NUL-terminated byte array
	if v, ok := block["Device"]; ok {
		if raw, ok := v.Value().([]byte); ok {
			dev.Path = strings.TrimRight(string(raw), "\x00")
		}
	}
	if dev.Path == "" {
		return dev, fmt.Errorf("missing Device property")
	}

	// Only report filesystem-type probe results as a filesystem type
	usage := propString(block, "IdUsage")
	if usage == "" || usage == "filesystem" {
		dev.FSType = propString(block, "IdType")
	}

	dev.UUID = propString(block, "IdUUID")
	dev.Label = propString(block, "IdLabel")
	dev.Size = propUint64(block, "Size")

	switch {
	case partition != nil:
		dev.Role = RolePartition
		dev.PartType = strings.ToLower(propString(partition, "Type"))
		dev.PartUUID = propString(partition, "UUID")
		dev.Flags = partTypeFlags(dev.PartType, propUint64(partition, "Flags"))
	case strings.HasPrefix(dev.Path, "/dev/dm-"), strings.HasPrefix(dev.Path, "/dev/mapper/"):
		dev.Role = RoleMapped
	default:
		dev.Role = RoleDisk
	}

	return dev, nil
}

// propString extracts a string property from a variant map
func propString(props map[string]dbus.Variant, name string) string {
	v, ok := props[name]
	if !ok {
		return ""
	}

	s, ok := v.Value().(string)
	if !ok {
		return ""
	}

	return s
}

// propUint64 extracts an unsigned integer property from a variant map
func propUint64(props map[string]dbus.Variant, name string) uint64 {
	v, ok := props[name]
	if !ok {
		return 0
	}

	n, ok := v.Value().(uint64)
	if !ok {
		return 0
	}

	return n
}
