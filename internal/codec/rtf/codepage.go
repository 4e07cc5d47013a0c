package rtf

import (
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
)

// codePages maps Windows code page numbers to encodings.
var codePages = map[int]encoding.Encoding{
	437:   charmap.CodePage437,
	850:   charmap.CodePage850,
	852:   charmap.CodePage852,
	866:   charmap.CodePage866,
	874:   charmap.Windows874,
	932:   japanese.ShiftJIS,
	936:   simplifiedchinese.GBK,
	949:   korean.EUCKR,
	950:   traditionalchinese.Big5,
	1250:  charmap.Windows1250,
	1251:  charmap.Windows1251,
	1252:  charmap.Windows1252,
	1253:  charmap.Windows1253,
	1254:  charmap.Windows1254,
	1255:  charmap.Windows1255,
	1256:  charmap.Windows1256,
	1257:  charmap.Windows1257,
	1258:  charmap.Windows1258,
	10000: charmap.Macintosh,
}

// charsetCodePages maps \fcharset values to code pages.
var charsetCodePages = map[int]int{
	0:   1252,
	77:  10000,
	128: 932,
	129: 949,
	134: 936,
	136: 950,
	161: 1253,
	162: 1254,
	163: 1258,
	177: 1255,
	178: 1256,
	186: 1257,
	204: 1251,
	222: 874,
	238: 1250,
	254: 437,
}

// symbolCharset is \fcharset2; its bytes are glyph positions in a
// symbol font, not characters of a code page.
const symbolCharset = 2

// symbolRunes maps the Symbol font positions list labels use.
var symbolRunes = map[byte]rune{
	0xB7: '•',
	0xA7: '▪',
	0xD8: '➢',
	0xFC: '✓',
	0x6F: 'o',
}

func codePage(n int) encoding.Encoding {
	if enc, ok := codePages[n]; ok {
		return enc
	}
	return charmap.Windows1252
}

// decodeBytes converts code page bytes to text.
func decodeBytes(b []byte, enc encoding.Encoding, symbol bool) string {
	if symbol {
		out := make([]rune, len(b))
		for i, c := range b {
			if r, ok := symbolRunes[c]; ok {
				out[i] = r
			} else {
				out[i] = rune(c)
			}
		}
		return string(out)
	}
	if cm, ok := enc.(*charmap.Charmap); ok {
		out := make([]rune, len(b))
		for i, c := range b {
			out[i] = cm.DecodeByte(c)
		}
		return string(out)
	}
	s, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return decodeBytes(b, charmap.Windows1252, false)
	}
	return string(s)
}
