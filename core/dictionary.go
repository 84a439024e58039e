package core

import (
	"sort"
	"sync"
)

// Firmware identification reported in the dictionary
const (
	FirmwareVersion = "gobutton-0.1.0"
	BuildVersions   = "go-tinygo"
)

// Dictionary is the JSON data dictionary the host fetches with identify.
// It lists every command and response with its ID, firmware constants and
// enumerations (pin names).
type Dictionary struct {
	mu           sync.RWMutex
	constants    map[string]interface{}
	enumerations map[string][]string
	commandReg   *CommandRegistry
	version      string
	cached       []byte
}

var globalDictionary = NewDictionary(globalRegistry)

// NewDictionary creates a dictionary over a command registry
func NewDictionary(cmdReg *CommandRegistry) *Dictionary {
	return &Dictionary{
		constants:    make(map[string]interface{}),
		enumerations: make(map[string][]string),
		commandReg:   cmdReg,
		version:      FirmwareVersion,
	}
}

// RegisterConstant registers a constant in the global dictionary
func RegisterConstant(name string, value interface{}) {
	globalDictionary.AddConstant(name, value)
}

// RegisterEnumeration registers an enumeration in the global dictionary
func RegisterEnumeration(name string, values []string) {
	globalDictionary.AddEnumeration(name, values)
}

// GetGlobalDictionary returns the global dictionary instance
func GetGlobalDictionary() *Dictionary {
	return globalDictionary
}

// AddConstant adds a constant; it invalidates the cached dictionary
func (d *Dictionary) AddConstant(name string, value interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.constants[name] = value
	d.cached = nil
}

// AddEnumeration adds an enumeration; value i is reported with index i
func (d *Dictionary) AddEnumeration(name string, values []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Keep our own copy; callers often build the slice on the stack of an init func
	valuesCopy := make([]string, len(values))
	copy(valuesCopy, values)
	d.enumerations[name] = valuesCopy
	d.cached = nil
}

// SetVersion sets the firmware version string
func (d *Dictionary) SetVersion(version string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.version = version
	d.cached = nil
}

// BuildDictionary renders and caches the dictionary.
// Call after all commands are registered.
func (d *Dictionary) BuildDictionary() {
	// Read the registry before taking our own lock to keep lock order one-way
	entries := d.commandReg.Entries()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.cached = d.render(entries)
	DebugPrintln("[dict] built " + itoa(len(d.cached)) + " bytes")
}

// Generate returns the dictionary JSON, rendering it if no cached copy exists
func (d *Dictionary) Generate() []byte {
	d.mu.RLock()
	cached := d.cached
	d.mu.RUnlock()
	if cached != nil {
		return cached
	}

	entries := d.commandReg.Entries()
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.render(entries)
}

// render builds the JSON by hand; caller holds d.mu
func (d *Dictionary) render(entries []*Command) []byte {
	out := make([]byte, 0, 1024)

	out = append(out, `{"version":`...)
	out = appendQuoted(out, d.version)
	out = append(out, `,"build_versions":`...)
	out = appendQuoted(out, BuildVersions)

	out = append(out, `,"config":{`...)
	for i, name := range sortedKeys(d.constants) {
		if i > 0 {
			out = append(out, ',')
		}
		out = appendQuoted(out, name)
		out = append(out, ':')
		out = appendQuoted(out, valueToString(d.constants[name]))
	}

	out = append(out, `},"commands":{`...)
	out = appendEntries(out, entries, false)
	out = append(out, `},"responses":{`...)
	out = appendEntries(out, entries, true)
	out = append(out, '}')

	if len(d.enumerations) > 0 {
		names := make([]string, 0, len(d.enumerations))
		for name := range d.enumerations {
			names = append(names, name)
		}
		sort.Strings(names)

		out = append(out, `,"enumerations":{`...)
		for i, name := range names {
			if i > 0 {
				out = append(out, ',')
			}
			out = appendQuoted(out, name)
			out = append(out, `:{`...)
			first := true
			for idx, value := range d.enumerations[name] {
				// Empty names are holes in the enumeration
				if value == "" {
					continue
				}
				if !first {
					out = append(out, ',')
				}
				out = appendQuoted(out, value)
				out = append(out, ':')
				out = append(out, itoa(idx)...)
				first = false
			}
			out = append(out, '}')
		}
		out = append(out, '}')
	}

	return append(out, '}')
}

func appendEntries(out []byte, entries []*Command, responses bool) []byte {
	first := true
	for _, cmd := range entries {
		if cmd.IsResponse() != responses {
			continue
		}
		if !first {
			out = append(out, ',')
		}
		out = appendQuoted(out, cmd.Signature())
		out = append(out, ':')
		out = append(out, itoa(int(cmd.ID))...)
		first = false
	}
	return out
}

func appendQuoted(out []byte, s string) []byte {
	out = append(out, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' || c == '\\' {
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	return append(out, '"')
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetChunk returns a copy of the dictionary bytes in [offset, offset+count).
// An offset past the end yields an empty chunk, which ends the host's identify loop.
func (d *Dictionary) GetChunk(offset uint32, count uint8) []byte {
	data := d.Generate()
	if offset >= uint32(len(data)) {
		return []byte{}
	}

	end := offset + uint32(count)
	if end > uint32(len(data)) {
		end = uint32(len(data))
	}

	chunk := make([]byte, end-offset)
	copy(chunk, data[offset:end])
	return chunk
}
