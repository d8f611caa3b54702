package core

import (
	"errors"
	"sync"
	"sync/atomic"

	"ledwire/protocol"
)

var (
	errShutdown = errors.New("firmware is shut down")
	errBadOID   = errors.New("oid out of range")
)

// FirmwareState holds the global firmware state
type FirmwareState struct {
	configCRC  atomic.Uint32
	isShutdown atomic.Bool
	oidCount   atomic.Uint32 // zero until allocate_oids
	moveCount  uint16
}

var globalState = &FirmwareState{moveCount: 16}

// object is anything a config_* command creates under an oid.
type object interface {
	shutdown()
}

var (
	objMu   sync.Mutex
	objects = map[uint8]object{}
)

var initCoreOnce sync.Once

// InitCoreCommands registers the core commands. identify_response and
// identify must be IDs 0 and 1, so this runs before any other
// registration.
func InitCoreCommands() {
	initCoreOnce.Do(func() {
		RegisterResponse("identify_response", "offset=%u data=%*s")
		RegisterCommand("identify", "offset=%u count=%c", handleIdentify)

		RegisterCommand("get_config", "", handleGetConfig)
		RegisterCommand("config_reset", "", handleConfigReset)
		RegisterCommand("finalize_config", "crc=%u", handleFinalizeConfig)
		RegisterCommand("allocate_oids", "count=%c", handleAllocateOids)
		RegisterCommand("shutdown", "", handleShutdown)
		RegisterCommand("reset", "", handleReset)
		registerClockCommands()

		RegisterResponse("config", "is_config=%c crc=%u is_shutdown=%c move_count=%hu")

		RegisterConstant("MCU", "ledwire")
	})
}

// decodeArgs decodes consecutive VLQ arguments into dst.
func decodeArgs(data *[]byte, dst ...*uint32) error {
	for _, p := range dst {
		v, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		*p = v
	}
	return nil
}

func boolArg(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// handleIdentify returns chunks of the data dictionary
func handleIdentify(data *[]byte) error {
	var offset, count uint32
	if err := decodeArgs(data, &offset, &count); err != nil {
		return err
	}
	chunk := GetGlobalDictionary().GetChunk(offset, uint8(count))
	SendResponse("identify_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQBytes(output, chunk)
	})
	return nil
}

func handleGetConfig(data *[]byte) error {
	crc := globalState.configCRC.Load()
	SendResponse("config", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, boolArg(crc != 0))
		protocol.EncodeVLQUint(output, crc)
		protocol.EncodeVLQUint(output, boolArg(globalState.isShutdown.Load()))
		protocol.EncodeVLQUint(output, uint32(globalState.moveCount))
	})
	return nil
}

// handleConfigReset drops every configured object and clears shutdown
func handleConfigReset(data *[]byte) error {
	ResetFirmwareState()
	return nil
}

func handleFinalizeConfig(data *[]byte) error {
	var crc uint32
	if err := decodeArgs(data, &crc); err != nil {
		return err
	}
	globalState.configCRC.Store(crc)
	return nil
}

func handleAllocateOids(data *[]byte) error {
	var count uint32
	if err := decodeArgs(data, &count); err != nil {
		return err
	}
	globalState.oidCount.Store(count)
	return nil
}

func handleShutdown(data *[]byte) error {
	TryShutdown("host request")
	return nil
}

// TryShutdown stops every output and refuses further configuration until
// config_reset.
func TryShutdown(reason string) {
	if globalState.isShutdown.Swap(true) {
		return
	}
	DebugPrintln("[core] shutdown: " + reason)
	ShutdownObjects()
}

// IsShutdown returns true if the firmware is in shutdown state
func IsShutdown() bool {
	return globalState.isShutdown.Load()
}

// ResetFirmwareState returns to the unconfigured state, as after power-on.
func ResetFirmwareState() {
	ShutdownObjects()
	globalState.configCRC.Store(0)
	globalState.oidCount.Store(0)
	globalState.isShutdown.Store(false)
}

// ShutdownObjects stops and forgets every configured object.
func ShutdownObjects() {
	objMu.Lock()
	old := objects
	objects = map[uint8]object{}
	objMu.Unlock()

	for _, obj := range old {
		obj.shutdown()
	}
}

// addObject checks oid against the allocation and stores obj under it,
// replacing any previous object.
func addObject(oid uint32, obj object) error {
	if IsShutdown() {
		return errShutdown
	}
	if n := globalState.oidCount.Load(); n != 0 && oid >= n {
		return errBadOID
	}
	objMu.Lock()
	prev := objects[uint8(oid)]
	objects[uint8(oid)] = obj
	objMu.Unlock()
	if prev != nil {
		prev.shutdown()
	}
	return nil
}

func lookupObject[T object](oid uint32) (T, error) {
	objMu.Lock()
	obj, ok := objects[uint8(oid)].(T)
	objMu.Unlock()
	if !ok {
		return obj, errors.New("no object for oid " + itoa(int(oid)))
	}
	return obj, nil
}

// ResponseSender frames responses to the host. *protocol.Transport is one.
type ResponseSender interface {
	SendCommand(cmdID uint16, args func(output protocol.OutputBuffer))
}

var globalTransport ResponseSender

// SetGlobalTransport sets where SendResponse writes
func SetGlobalTransport(transport ResponseSender) {
	globalTransport = transport
}

// SendResponse sends a registered response by name
func SendResponse(responseName string, args func(output protocol.OutputBuffer)) {
	if globalTransport == nil {
		return
	}
	cmd, ok := globalRegistry.GetCommandByName(responseName)
	if !ok {
		panic("response not registered: " + responseName)
	}
	globalTransport.SendCommand(cmd.ID, args)
}

var globalResetHandler func()

// resetPending defers the reset until the ACK has gone out
var resetPending atomic.Bool

// SetResetHandler sets the platform-specific reset handler
func SetResetHandler(handler func()) {
	globalResetHandler = handler
}

func handleReset(_ *[]byte) error {
	resetPending.Store(true)
	return nil
}

// CheckPendingReset runs the reset handler if a reset was requested. The
// main loop calls it after flushing output.
func CheckPendingReset() bool {
	if !resetPending.Swap(false) {
		return false
	}
	ShutdownObjects()
	if globalResetHandler != nil {
		globalResetHandler()
	}
	return true
}
