package desktop

import (
	"runtime"
	"sort"
)

// keyNames is the canonical set of key names accepted by press-keys and
// drag modifiers. Names follow the conventional automation vocabulary
// so agents trained against other drivers can reuse them verbatim.
var keyNames = map[string]bool{
	"ctrl": true, "shift": true, "alt": true, "win": true, "command": true,
	"enter": true, "esc": true, "tab": true, "space": true, "backspace": true,
	"delete": true, "insert": true, "home": true, "end": true,
	"pageup": true, "pagedown": true,
	"up": true, "down": true, "left": true, "right": true,
	"f1": true, "f2": true, "f3": true, "f4": true, "f5": true, "f6": true,
	"f7": true, "f8": true, "f9": true, "f10": true, "f11": true, "f12": true,
	"capslock": true, "numlock": true, "printscreen": true, "pause": true,
	"a": true, "b": true, "c": true, "d": true, "e": true, "f": true,
	"g": true, "h": true, "i": true, "j": true, "k": true, "l": true,
	"m": true, "n": true, "o": true, "p": true, "q": true, "r": true,
	"s": true, "t": true, "u": true, "v": true, "w": true, "x": true,
	"y": true, "z": true,
	"0": true, "1": true, "2": true, "3": true, "4": true,
	"5": true, "6": true, "7": true, "8": true, "9": true,
}

// ListKeyNames returns the valid key names in sorted order. This is the
// static capability query behind the list-keys tool.
func ListKeyNames() []string {
	names := make([]string, 0, len(keyNames))
	for name := range keyNames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidKey reports whether name is an accepted key name.
func ValidKey(name string) bool {
	return keyNames[name]
}

// PasteChord returns the key combination that pastes the clipboard on
// this platform, used for the non-ASCII text entry fallback.
func PasteChord() []string {
	if runtime.GOOS == "darwin" {
		return []string{"command", "v"}
	}
	return []string{"ctrl", "v"}
}
