package devicelink

import (
	"encoding/json"
	"fmt"
)

// Protocol message version spoken with the device-control server.
const protocolVersion = 3

// Reserved message identifiers for structural messages.
// Command identifiers are allocated from the client's counter, which
// starts above these so they never collide.
const (
	handshakeID     = 1
	deviceListReqID = 2
	scanID          = 3
	systemID        = 0
)

// Outbound message bodies. Each frame on the wire is a JSON array holding a
// single object with exactly one discriminator key, e.g.
//
//	[{"RequestServerInfo":{"Id":1,"ClientName":"...","MessageVersion":3}}]
type requestServerInfo struct {
	ID             uint32 `json:"Id"`
	ClientName     string `json:"ClientName"`
	MessageVersion int    `json:"MessageVersion"`
}

type requestDeviceList struct {
	ID uint32 `json:"Id"`
}

type startScanning struct {
	ID uint32 `json:"Id"`
}

type speedEntry struct {
	Index int     `json:"Index"`
	Speed float64 `json:"Speed"`
}

type vibrateCmd struct {
	ID          uint32       `json:"Id"`
	DeviceIndex uint32       `json:"DeviceIndex"`
	Speeds      []speedEntry `json:"Speeds"`
}

type vectorEntry struct {
	Index    int     `json:"Index"`
	Duration int     `json:"Duration"`
	Position float64 `json:"Position"`
}

type linearCmd struct {
	ID          uint32        `json:"Id"`
	DeviceIndex uint32        `json:"DeviceIndex"`
	Vectors     []vectorEntry `json:"Vectors"`
}

// encodeFrame wraps a single message body in the array-of-one-object wire
// framing under the given discriminator key.
func encodeFrame(key string, body any) ([]byte, error) {
	frame := []map[string]any{{key: body}}
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrEncodingFailed, key, err)
	}
	return data, nil
}

func encodeHandshake(clientName string) ([]byte, error) {
	return encodeFrame("RequestServerInfo", requestServerInfo{
		ID:             handshakeID,
		ClientName:     clientName,
		MessageVersion: protocolVersion,
	})
}

func encodeDeviceListRequest() ([]byte, error) {
	return encodeFrame("RequestDeviceList", requestDeviceList{ID: deviceListReqID})
}

func encodeStartScanning() ([]byte, error) {
	return encodeFrame("StartScanning", startScanning{ID: scanID})
}

func encodeVibrate(id, deviceIndex uint32, strength float64) ([]byte, error) {
	return encodeFrame("VibrateCmd", vibrateCmd{
		ID:          id,
		DeviceIndex: deviceIndex,
		Speeds:      []speedEntry{{Index: 0, Speed: strength}},
	})
}

func encodeStroke(deviceIndex uint32, position float64, durationMs int) ([]byte, error) {
	return encodeFrame("LinearCmd", linearCmd{
		ID:          systemID,
		DeviceIndex: deviceIndex,
		Vectors:     []vectorEntry{{Index: 0, Duration: durationMs, Position: position}},
	})
}

// InboundKind identifies the variant carried by an Inbound message.
type InboundKind int

// Inbound message variants. Unrecognised discriminators map to KindUnknown
// and are logged and dropped by the dispatcher, never treated as fatal.
const (
	KindUnknown InboundKind = iota
	KindServerInfo
	KindOK
	KindError
	KindDeviceAdded
	KindDeviceRemoved
	KindDeviceList
	KindScanningFinished
)

// DeviceInfo is the device descriptor as advertised by the server.
// Raw preserves the full descriptor for fields this client does not model.
type DeviceInfo struct {
	DeviceIndex uint32 `json:"DeviceIndex"`
	DeviceName  string `json:"DeviceName"`

	Raw json.RawMessage `json:"-"`
}

type deviceRemovedMsg struct {
	DeviceIndex uint32 `json:"DeviceIndex"`
}

type deviceListMsg struct {
	Devices []json.RawMessage `json:"Devices"`
}

// Inbound is the decoded form of one wire message. The discriminator is
// resolved exactly once here; everything downstream switches on Kind.
type Inbound struct {
	Kind InboundKind

	// Key is the discriminator as seen on the wire, kept for logging
	// unrecognised variants.
	Key string

	// DeviceAdded is set for KindDeviceAdded.
	DeviceAdded *DeviceInfo

	// DeviceRemoved is the removed index for KindDeviceRemoved.
	DeviceRemoved uint32

	// DeviceList is set for KindDeviceList.
	DeviceList []DeviceInfo

	// Raw is the undecoded body for variants without a typed form.
	Raw json.RawMessage
}

// decodeFrames parses one wire frame into its inbound messages.
//
// A frame is a JSON array of objects, each with exactly one discriminator
// key. Objects with zero or multiple keys are rejected as malformed; a
// malformed frame is a protocol error, not a connection error.
func decodeFrames(data []byte) ([]Inbound, error) {
	var frame []map[string]json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	msgs := make([]Inbound, 0, len(frame))
	for _, obj := range frame {
		if len(obj) != 1 {
			return nil, fmt.Errorf("%w: expected exactly one discriminator key, got %d", ErrMalformedMessage, len(obj))
		}
		for key, body := range obj {
			msg, err := decodeOne(key, body)
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, msg)
		}
	}
	return msgs, nil
}

// decodeOne resolves a single discriminator key into a typed Inbound.
func decodeOne(key string, body json.RawMessage) (Inbound, error) {
	switch key {
	case "ServerInfo":
		return Inbound{Kind: KindServerInfo, Key: key, Raw: body}, nil

	case "Ok":
		return Inbound{Kind: KindOK, Key: key, Raw: body}, nil

	case "Error":
		return Inbound{Kind: KindError, Key: key, Raw: body}, nil

	case "DeviceAdded":
		var info DeviceInfo
		if err := json.Unmarshal(body, &info); err != nil {
			return Inbound{}, fmt.Errorf("%w: DeviceAdded: %w", ErrMalformedMessage, err)
		}
		info.Raw = body
		return Inbound{Kind: KindDeviceAdded, Key: key, DeviceAdded: &info}, nil

	case "DeviceRemoved":
		var removed deviceRemovedMsg
		if err := json.Unmarshal(body, &removed); err != nil {
			return Inbound{}, fmt.Errorf("%w: DeviceRemoved: %w", ErrMalformedMessage, err)
		}
		return Inbound{Kind: KindDeviceRemoved, Key: key, DeviceRemoved: removed.DeviceIndex}, nil

	case "DeviceList":
		var list deviceListMsg
		if err := json.Unmarshal(body, &list); err != nil {
			return Inbound{}, fmt.Errorf("%w: DeviceList: %w", ErrMalformedMessage, err)
		}
		devices := make([]DeviceInfo, 0, len(list.Devices))
		for _, raw := range list.Devices {
			var info DeviceInfo
			if err := json.Unmarshal(raw, &info); err != nil {
				return Inbound{}, fmt.Errorf("%w: DeviceList entry: %w", ErrMalformedMessage, err)
			}
			info.Raw = raw
			devices = append(devices, info)
		}
		return Inbound{Kind: KindDeviceList, Key: key, DeviceList: devices}, nil

	case "ScanningFinished":
		return Inbound{Kind: KindScanningFinished, Key: key, Raw: body}, nil

	default:
		return Inbound{Kind: KindUnknown, Key: key, Raw: body}, nil
	}
}
