package keystroke

// Linux input event types and key values.
const (
	evKey = 0x01

	keyRelease = 0
	keyPress   = 1
	keyRepeat  = 2
)

// Key codes from linux/input-event-codes.h that need special handling.
const (
	keyLeftShift  = 42
	keyRightShift = 54
	keyCapsLock   = 58
)

// keyDef maps one key code to its identifier without and with shift.
// letter marks keys that caps lock also shifts.
type keyDef struct {
	plain   string
	shifted string
	letter  bool
}

func letter(c string, upper string) keyDef { return keyDef{c, upper, true} }
func char(c, shifted string) keyDef        { return keyDef{c, shifted, false} }
func named(n string) keyDef                { return keyDef{n, n, false} }

// keymap covers a US layout, which is what scanners emulate unless
// reprogrammed. Keypad keys assume num lock on.
var keymap = map[uint16]keyDef{
	1:   named("Escape"),
	2:   char("1", "!"),
	3:   char("2", "@"),
	4:   char("3", "#"),
	5:   char("4", "$"),
	6:   char("5", "%"),
	7:   char("6", "^"),
	8:   char("7", "&"),
	9:   char("8", "*"),
	10:  char("9", "("),
	11:  char("0", ")"),
	12:  char("-", "_"),
	13:  char("=", "+"),
	14:  named("Backspace"),
	15:  named("Tab"),
	16:  letter("q", "Q"),
	17:  letter("w", "W"),
	18:  letter("e", "E"),
	19:  letter("r", "R"),
	20:  letter("t", "T"),
	21:  letter("y", "Y"),
	22:  letter("u", "U"),
	23:  letter("i", "I"),
	24:  letter("o", "O"),
	25:  letter("p", "P"),
	26:  char("[", "{"),
	27:  char("]", "}"),
	28:  named("Enter"),
	29:  named("Control"),
	30:  letter("a", "A"),
	31:  letter("s", "S"),
	32:  letter("d", "D"),
	33:  letter("f", "F"),
	34:  letter("g", "G"),
	35:  letter("h", "H"),
	36:  letter("j", "J"),
	37:  letter("k", "K"),
	38:  letter("l", "L"),
	39:  char(";", ":"),
	40:  char("'", "\""),
	41:  char("`", "~"),
	42:  named("Shift"),
	43:  char("\\", "|"),
	44:  letter("z", "Z"),
	45:  letter("x", "X"),
	46:  letter("c", "C"),
	47:  letter("v", "V"),
	48:  letter("b", "B"),
	49:  letter("n", "N"),
	50:  letter("m", "M"),
	51:  char(",", "<"),
	52:  char(".", ">"),
	53:  char("/", "?"),
	54:  named("Shift"),
	55:  char("*", "*"),
	56:  named("Alt"),
	57:  char(" ", " "),
	58:  named("CapsLock"),
	59:  named("F1"),
	60:  named("F2"),
	61:  named("F3"),
	62:  named("F4"),
	63:  named("F5"),
	64:  named("F6"),
	65:  named("F7"),
	66:  named("F8"),
	67:  named("F9"),
	68:  named("F10"),
	69:  named("NumLock"),
	70:  named("ScrollLock"),
	71:  char("7", "7"),
	72:  char("8", "8"),
	73:  char("9", "9"),
	74:  char("-", "-"),
	75:  char("4", "4"),
	76:  char("5", "5"),
	77:  char("6", "6"),
	78:  char("+", "+"),
	79:  char("1", "1"),
	80:  char("2", "2"),
	81:  char("3", "3"),
	82:  char("0", "0"),
	83:  char(".", "."),
	87:  named("F11"),
	88:  named("F12"),
	96:  named("Enter"),
	97:  named("Control"),
	98:  char("/", "/"),
	100: named("Alt"),
	102: named("Home"),
	103: named("ArrowUp"),
	104: named("PageUp"),
	105: named("ArrowLeft"),
	106: named("ArrowRight"),
	107: named("End"),
	108: named("ArrowDown"),
	109: named("PageDown"),
	110: named("Insert"),
	111: named("Delete"),
	125: named("Meta"),
	126: named("Meta"),
}

// KeyName returns the identifier for code given the modifier state, or
// "Unidentified" for codes outside the map.
func KeyName(code uint16, shift, capsLock bool) string {
	def, ok := keymap[code]
	if !ok {
		return "Unidentified"
	}
	upper := shift
	if def.letter && capsLock {
		upper = !upper
	}
	if upper {
		return def.shifted
	}
	return def.plain
}

// modifiers is the shift and caps lock state of one device.
type modifiers struct {
	leftShift  bool
	rightShift bool
	capsLock   bool
}

// update applies a key event and returns the key identifier to deliver, or
// false for releases.
func (m *modifiers) update(code uint16, value int32) (string, bool) {
	switch code {
	case keyLeftShift:
		m.leftShift = value != keyRelease
	case keyRightShift:
		m.rightShift = value != keyRelease
	case keyCapsLock:
		if value == keyPress {
			m.capsLock = !m.capsLock
		}
	}

	if value != keyPress && value != keyRepeat {
		return "", false
	}
	return KeyName(code, m.leftShift || m.rightShift, m.capsLock), true
}
