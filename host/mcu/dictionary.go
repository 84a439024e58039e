package mcu

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gobutton/protocol"
)

// Bootstrap IDs every Klipper-style firmware reserves before a dictionary exists
const (
	identifyResponseID = 0
	identifyID         = 1
)

// Dictionary represents the parsed MCU dictionary
type Dictionary struct {
	Version       string                    `json:"version"`
	BuildVersions string                    `json:"build_versions"`
	Config        map[string]string         `json:"config"`
	Commands      map[string]int            `json:"commands"`
	Responses     map[string]int            `json:"responses"`
	Enumerations  map[string]map[string]int `json:"enumerations,omitempty"`

	commands  map[string]*MessageFormat
	responses map[uint16]*MessageFormat
}

// MessageFormat is one command or response signature, e.g.
// "button_event pin=%u pressed=%c clock=%u"
type MessageFormat struct {
	ID     uint16
	Name   string
	Fields []Field
}

// Field is one name=%fmt argument
type Field struct {
	Name  string
	Bytes bool // %s / %*s / %.*s
}

// Response is a decoded MCU response
type Response struct {
	Name string
	Args map[string]uint32
	Data []byte // payload of the last byte-array field, if any
}

// ParseDictionary parses the JSON dictionary served by identify
func ParseDictionary(data []byte) (*Dictionary, error) {
	d := &Dictionary{}
	if err := json.Unmarshal(data, d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dictionary: %w", err)
	}

	d.commands = make(map[string]*MessageFormat, len(d.Commands))
	for sig, id := range d.Commands {
		f, err := parseFormat(sig, id)
		if err != nil {
			return nil, err
		}
		d.commands[f.Name] = f
	}

	d.responses = make(map[uint16]*MessageFormat, len(d.Responses))
	for sig, id := range d.Responses {
		f, err := parseFormat(sig, id)
		if err != nil {
			return nil, err
		}
		d.responses[f.ID] = f
	}

	return d, nil
}

func parseFormat(sig string, id int) (*MessageFormat, error) {
	if id < 0 || id > 0xFFFF {
		return nil, fmt.Errorf("message %q: id %d out of range", sig, id)
	}

	parts := strings.Fields(sig)
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty message signature for id %d", id)
	}

	f := &MessageFormat{ID: uint16(id), Name: parts[0]}
	for _, p := range parts[1:] {
		name, spec, ok := strings.Cut(p, "=")
		if !ok || !strings.HasPrefix(spec, "%") {
			return nil, fmt.Errorf("message %q: bad field %q", sig, p)
		}
		f.Fields = append(f.Fields, Field{Name: name, Bytes: strings.HasSuffix(spec, "s")})
	}
	return f, nil
}

// Command looks up a command by name
func (d *Dictionary) Command(name string) (*MessageFormat, bool) {
	f, ok := d.commands[name]
	return f, ok
}

// Response looks up a response by ID
func (d *Dictionary) Response(id uint16) (*MessageFormat, bool) {
	f, ok := d.responses[id]
	return f, ok
}

// ConfigUint returns a numeric dictionary constant
func (d *Dictionary) ConfigUint(name string) (uint32, error) {
	raw, ok := d.Config[name]
	if !ok {
		return 0, fmt.Errorf("dictionary has no %s constant", name)
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("dictionary constant %s=%q: %w", name, raw, err)
	}
	return uint32(v), nil
}

// Encode writes args for this format; integer fields only
func (f *MessageFormat) Encode(output protocol.OutputBuffer, args ...uint32) error {
	if len(args) != len(f.Fields) {
		return fmt.Errorf("%s takes %d arguments, got %d", f.Name, len(f.Fields), len(args))
	}
	for i, field := range f.Fields {
		if field.Bytes {
			return fmt.Errorf("%s: byte field %s not supported", f.Name, field.Name)
		}
		protocol.EncodeVLQUint(output, args[i])
	}
	return nil
}

// Decode reads this format's fields from data
func (f *MessageFormat) Decode(data *[]byte) (*Response, error) {
	resp := &Response{Name: f.Name, Args: make(map[string]uint32, len(f.Fields))}
	for _, field := range f.Fields {
		if field.Bytes {
			b, err := protocol.DecodeVLQBytes(data)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", f.Name, field.Name, err)
			}
			resp.Data = append([]byte(nil), b...)
			continue
		}
		v, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", f.Name, field.Name, err)
		}
		resp.Args[field.Name] = v
	}
	return resp, nil
}

// identifyResponseFormat decodes identify_response before any dictionary is loaded
var identifyResponseFormat = &MessageFormat{
	ID:   identifyResponseID,
	Name: "identify_response",
	Fields: []Field{
		{Name: "offset"},
		{Name: "data", Bytes: true},
	},
}
