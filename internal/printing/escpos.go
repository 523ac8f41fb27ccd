package printing

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ESC/POS command bytes
const (
	ESC = 0x1B
	GS  = 0x1D
	LF  = 0x0A
)

const (
	AlignLeft   = 0
	AlignCenter = 1
	AlignRight  = 2
)

const (
	FontNormal = 0x00
	FontDouble = 0x11
	FontWide   = 0x10
	FontTall   = 0x01
)

// Document builds the text part of an ESC/POS job. Control sequences are embedded in the
// text the same way the print agent forwards it to the serial printer.
type Document struct {
	buf   strings.Builder
	width int
}

// NewDocument starts a document; width is in characters (32 for 58mm paper, 48 for 80mm).
func NewDocument(charWidth int) *Document {
	if charWidth <= 0 {
		charWidth = 32
	}
	d := &Document{width: charWidth}
	d.Init()
	return d
}

func (d *Document) Init() *Document {
	d.buf.Write([]byte{ESC, '@'})
	return d
}

func (d *Document) FeedLines(n int) *Document {
	for i := 0; i < n; i++ {
		d.buf.WriteByte(LF)
	}
	return d
}

func (d *Document) SetAlign(align int) *Document {
	d.buf.Write([]byte{ESC, 'a', byte(align)})
	return d
}

func (d *Document) SetBold(on bool) *Document {
	b := byte(0)
	if on {
		b = 1
	}
	d.buf.Write([]byte{ESC, 'E', b})
	return d
}

func (d *Document) SetFontSize(size byte) *Document {
	d.buf.Write([]byte{GS, '!', size})
	return d
}

func (d *Document) Text(s string) *Document {
	d.buf.WriteString(s)
	d.buf.WriteByte(LF)
	return d
}

func (d *Document) TextF(format string, args ...any) *Document {
	return d.Text(fmt.Sprintf(format, args...))
}

// Centered prints one centred line and restores left alignment.
func (d *Document) Centered(s string) *Document {
	return d.SetAlign(AlignCenter).Text(s).SetAlign(AlignLeft)
}

// Title prints a centred, bold, double-size heading.
func (d *Document) Title(s string) *Document {
	return d.SetAlign(AlignCenter).SetBold(true).SetFontSize(FontDouble).Text(s).
		SetFontSize(FontNormal).SetBold(false).SetAlign(AlignLeft)
}

// Banner prints a centred line at the given size, e.g. FontTall for report headings.
func (d *Document) Banner(size byte, s string) *Document {
	return d.SetAlign(AlignCenter).SetFontSize(size).Text(s).SetFontSize(FontNormal).SetAlign(AlignLeft)
}

// RightText prints one right-aligned line.
func (d *Document) RightText(s string) *Document {
	return d.SetAlign(AlignRight).Text(s).SetAlign(AlignLeft)
}

func (d *Document) Separator(char byte) *Document {
	d.buf.WriteString(strings.Repeat(string(char), d.width))
	d.buf.WriteByte(LF)
	return d
}

// KeyValue prints a left key and a right-aligned value on one line.
func (d *Document) KeyValue(key, value string) *Document {
	spaces := d.width - len(key) - len(value)
	if spaces < 1 {
		spaces = 1
	}
	d.buf.WriteString(key)
	d.buf.WriteString(strings.Repeat(" ", spaces))
	d.buf.WriteString(value)
	d.buf.WriteByte(LF)
	return d
}

// ItemLine prints "2x Widget        20.00"; an empty total prints the name alone.
func (d *Document) ItemLine(qty int, name, total string) *Document {
	prefix := fmt.Sprintf("%dx %s", qty, name)
	if total == "" {
		return d.Text(prefix)
	}
	return d.KeyValue(prefix, total)
}

func (d *Document) String() string {
	return d.buf.String()
}

// code39Charset is every character a Code 39 symbol can carry.
const code39Charset = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ $%*+-./"

// SanitizeCode39 upper-cases the value and drops characters Code 39 cannot encode.
func SanitizeCode39(value string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(value) {
		if strings.ContainsRune(code39Charset, r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Code39Hex returns the GS h / GS w / GS H / GS k chunks that print value as a Code 39 barcode
// with the human-readable text below it.
func Code39Hex(value string) []string {
	data := SanitizeCode39(value)
	if data == "" {
		return nil
	}
	return []string{
		"1b 40",
		"1d 68 50",
		"1d 77 02",
		"1d 48 02",
		"1d 6b 04 " + spacedHex([]byte(data)) + " 00",
	}
}

// DecodeHex turns space-separated hex chunks into raw bytes.
func DecodeHex(chunks []string) ([]byte, error) {
	var out []byte
	for _, chunk := range chunks {
		cleaned := strings.Join(strings.Fields(chunk), "")
		if cleaned == "" {
			continue
		}
		raw, err := hex.DecodeString(cleaned)
		if err != nil {
			return nil, fmt.Errorf("invalid hex chunk %q: %w", chunk, err)
		}
		out = append(out, raw...)
	}
	return out, nil
}

func spacedHex(data []byte) string {
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = fmt.Sprintf("%02x", b)
	}
	return strings.Join(parts, " ")
}
