package fat

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf16"

	"github.com/elliotwutingfeng/asciiset"

	"github.com/rstms/fatfs"
)

const (
	slotSize        = 32
	lfnCharsPerSlot = 13
	lfnLastFlag     = 0x40
	lfnSequenceMask = 0x1f
	maxNameUnits    = 255
	maxLFNSlots     = 20

	slotEnd     = 0x00
	slotDeleted = 0xe5
	slotKanji   = 0x05

	caseLowerBase = 0x08
	caseLowerExt  = 0x10
)

// utf-16 offsets of the 13 name characters in a long name slot
var lfnCharOffsets = [lfnCharsPerSlot]int{1, 3, 5, 7, 9, 14, 16, 18, 20, 22, 24, 28, 30}

// valid shortname characters
var validShortNameCharacters, _ = asciiset.MakeASCIISet("!#$%&'()-0123456789@ABCDEFGHIJKLMNOPQRSTUVWXYZ^_`{}~")

const invalidNameCharacters = "\"*/:<>?\\|"

type direntKind uint8

const (
	kindRegular direntKind = iota
	kindDot
	kindDotDot
	kindVolume
)

// dirent is the shared in-memory record of one directory entry. dir is
// the table holding it; the record does not own its parent.
type dirent struct {
	dir      *dirTable
	kind     direntKind
	name     string
	short    [11]byte
	attr     fatfs.DirectoryAttr
	ntCase   byte
	created  time.Time
	modified time.Time
	accessed time.Time
	cluster  uint32
	size     uint32
	chain    []uint32
	deleted  bool
}

func (d *dirent) isDir() bool {
	return d.attr.Has(fatfs.AttrDirectory)
}

func (d *dirent) hidden() bool {
	return d.kind != kindRegular
}

// checksum is the long name checksum of an 11 byte short name.
func checksum(short [11]byte) byte {
	var sum byte
	for _, c := range short {
		sum = (sum&1)<<7 + sum>>1 + c
	}
	return sum
}

func shortKey(base, ext string) [11]byte {
	var key [11]byte
	copy(key[:], "           ")
	copy(key[0:8], base)
	copy(key[8:11], ext)
	return key
}

func shortParts(short [11]byte) (string, string) {
	decode := func(b []byte) string {
		r := make([]rune, 0, len(b))
		for _, c := range b {
			r = append(r, rune(c))
		}
		return strings.TrimRight(string(r), " ")
	}
	return decode(short[0:8]), decode(short[8:11])
}

// shortDisplay renders a short name the way it is listed, applying the
// lowercase flags.
func shortDisplay(short [11]byte, ntCase byte) string {
	base, ext := shortParts(short)
	if ntCase&caseLowerBase != 0 {
		base = strings.ToLower(base)
	}
	if ntCase&caseLowerExt != 0 {
		ext = strings.ToLower(ext)
	}
	if ext == "" {
		return base
	}
	return base + "." + ext
}

// validateName normalizes a long name. Trailing dots and spaces are
// dropped as Windows does.
func validateName(name string) (string, error) {
	if name == "." || name == ".." {
		return "", Fatalf("%w: %q", fatfs.ErrInvalidName, name)
	}
	name = strings.TrimRight(strings.TrimLeft(name, " "), " .")
	if name == "" {
		return "", Fatalf("%w: empty name", fatfs.ErrInvalidName)
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(invalidNameCharacters, r) || r == unicode.ReplacementChar {
			return "", Fatalf("%w: %q", fatfs.ErrInvalidName, name)
		}
	}
	if len(utf16.Encode([]rune(name))) > maxNameUnits {
		return "", Fatalf("%w: name longer than %d characters", fatfs.ErrInvalidName, maxNameUnits)
	}
	return name, nil
}

func splitExt(name string) (string, string, bool) {
	i := strings.LastIndex(name, ".")
	if i <= 0 {
		return name, "", false
	}
	return name[:i], name[i+1:], true
}

func validShort(s string) bool {
	for i := 0; i < len(s); i++ {
		if !validShortNameCharacters.Contains(s[i]) {
			return false
		}
	}
	return true
}

// caseOf reports whether s has lowercase and uppercase letters.
func caseOf(s string) (lower, upper bool) {
	for _, r := range s {
		lower = lower || unicode.IsLower(r)
		upper = upper || unicode.IsUpper(r)
	}
	return lower, upper
}

// exactShort returns the short name for a name that already is a
// valid 8.3 name, using the case flags for an all lowercase base or
// extension.
func exactShort(name string) ([11]byte, byte, bool) {
	base, ext, _ := splitExt(name)
	if len(base) == 0 || len(base) > 8 || len(ext) > 3 || strings.HasSuffix(name, ".") {
		return [11]byte{}, 0, false
	}
	upperBase, upperExt := strings.ToUpper(base), strings.ToUpper(ext)
	if !validShort(upperBase) || !validShort(upperExt) {
		return [11]byte{}, 0, false
	}
	var ntCase byte
	if lower, upper := caseOf(base); lower && upper {
		return [11]byte{}, 0, false
	} else if lower {
		ntCase |= caseLowerBase
	}
	if lower, upper := caseOf(ext); lower && upper {
		return [11]byte{}, 0, false
	} else if lower {
		ntCase |= caseLowerExt
	}
	return shortKey(upperBase, upperExt), ntCase, true
}

func shortFilter(s string, max int) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if b.Len() >= max {
			break
		}
		switch {
		case r == ' ' || r == '.':
		case r < 0x80 && validShortNameCharacters.Contains(byte(r)):
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// shortName picks the 11 byte alias for name. taken reports aliases
// already used in the directory.
func shortName(name string, taken func([11]byte) bool) ([11]byte, byte, error) {
	if short, ntCase, ok := exactShort(name); ok && !taken(short) {
		return short, ntCase, nil
	}
	base, ext, _ := splitExt(name)
	if upperBase, upperExt := strings.ToUpper(base), strings.ToUpper(ext); len(upperBase) > 0 &&
		len(upperBase) <= 8 && len(upperExt) <= 3 && validShort(upperBase) && validShort(upperExt) {
		if short := shortKey(upperBase, upperExt); !taken(short) {
			return short, 0, nil
		}
	}
	base, ext, _ = splitExt(strings.TrimLeft(name, "."))
	base = shortFilter(base, 8)
	ext = shortFilter(ext, 3)
	if base == "" {
		base = "_"
	}
	for n := 1; n < 1000000; n++ {
		tail := fmt.Sprintf("~%d", n)
		keep := len(base)
		if keep > 8-len(tail) {
			keep = 8 - len(tail)
		}
		short := shortKey(base[:keep]+tail, ext)
		if !taken(short) {
			return short, 0, nil
		}
	}
	return [11]byte{}, 0, Fatalf("%w: no short name left for %q", fatfs.ErrExist, name)
}

func (d *dirent) needsLFN() bool {
	return d.kind == kindRegular && shortDisplay(d.short, d.ntCase) != d.name
}

func dateTimeToTime(d, t uint16) time.Time {
	if d == 0 {
		return time.Time{}
	}
	year := int(d>>9) + 1980
	month := time.Month((d >> 5) & 0x0f)
	date := int(d & 0x1f)
	second := int((t & 0x1f) * 2)
	minute := int((t >> 5) & 0x3f)
	hour := int(t >> 11)
	return time.Date(year, month, date, hour, minute, second, 0, time.Local)
}

func timeToDateTime(t time.Time) (datePart, timePart uint16) {
	if t.IsZero() {
		return 0, 0
	}
	t = t.Local()
	if t.Year() < 1980 {
		return 1<<5 | 1, 0
	}
	if t.Year() > 2107 {
		// 2107-12-31 23:59:58, the last time the fields can hold
		return 127<<9 | 12<<5 | 31, 23<<11 | 59<<5 | 29
	}
	year := t.Year()
	month := int(t.Month())
	day := t.Day()
	second := t.Second()
	minute := t.Minute()
	hour := t.Hour()
	retDate := (year-1980)<<9 + (month << 5) + day
	retTime := hour<<11 + minute<<5 + (second / 2)
	return uint16(retDate), uint16(retTime)
}

// encode returns the long name slots, if any, followed by the short
// entry.
func (d *dirent) encode() []byte {
	var b []byte
	if d.needsLFN() {
		b = longNameSlots(d.name, checksum(d.short))
	}
	slot := make([]byte, slotSize)
	copy(slot[0:11], d.short[:])
	if slot[0] == slotDeleted {
		slot[0] = slotKanji
	}
	slot[11] = byte(d.attr)
	slot[12] = d.ntCase
	le := binary.LittleEndian
	createDate, createTime := timeToDateTime(d.created)
	modifyDate, modifyTime := timeToDateTime(d.modified)
	accessDate, _ := timeToDateTime(d.accessed)
	le.PutUint16(slot[14:16], createTime)
	le.PutUint16(slot[16:18], createDate)
	le.PutUint16(slot[18:20], accessDate)
	le.PutUint16(slot[20:22], uint16(d.cluster>>16))
	le.PutUint16(slot[22:24], modifyTime)
	le.PutUint16(slot[24:26], modifyDate)
	le.PutUint16(slot[26:28], uint16(d.cluster))
	le.PutUint32(slot[28:32], d.size)
	return append(b, slot...)
}

// longNameSlots encodes name in reverse slot order, the last logical
// slot first and flagged.
func longNameSlots(name string, sum byte) []byte {
	units := utf16.Encode([]rune(name))
	count := (len(units) + lfnCharsPerSlot - 1) / lfnCharsPerSlot
	b := make([]byte, 0, count*slotSize)
	for seq := count; seq > 0; seq-- {
		slot := make([]byte, slotSize)
		slot[0] = byte(seq)
		if seq == count {
			slot[0] |= lfnLastFlag
		}
		slot[11] = byte(fatfs.AttrLongName)
		slot[13] = sum
		for i, offset := range lfnCharOffsets {
			index := (seq-1)*lfnCharsPerSlot + i
			var unit uint16
			switch {
			case index < len(units):
				unit = units[index]
			case index == len(units):
				unit = 0
			default:
				unit = 0xffff
			}
			binary.LittleEndian.PutUint16(slot[offset:], unit)
		}
		b = append(b, slot...)
	}
	return b
}

// longNameRun collects the slots of one long name as they are read.
type longNameRun struct {
	next  int
	sum   byte
	parts [][]uint16
}

func (r *longNameRun) reset() {
	r.next = 0
	r.parts = nil
}

func (r *longNameRun) add(slot []byte) {
	seq := int(slot[0] & lfnSequenceMask)
	if slot[0]&lfnLastFlag != 0 {
		r.reset()
		if seq == 0 || seq > maxLFNSlots {
			return
		}
		r.sum = slot[13]
	} else if r.next == 0 || seq != r.next || slot[13] != r.sum {
		r.reset()
		return
	}
	units := make([]uint16, 0, lfnCharsPerSlot)
	for _, offset := range lfnCharOffsets {
		units = append(units, binary.LittleEndian.Uint16(slot[offset:]))
	}
	r.parts = append(r.parts, units)
	r.next = seq - 1
}

// name returns the collected long name when the run is complete and
// belongs to the short entry with the given checksum.
func (r *longNameRun) name(sum byte) string {
	defer r.reset()
	if len(r.parts) == 0 || r.next != 0 || r.sum != sum {
		return ""
	}
	units := make([]uint16, 0, len(r.parts)*lfnCharsPerSlot)
	for i := len(r.parts) - 1; i >= 0; i-- {
		for _, unit := range r.parts[i] {
			if unit == 0 {
				break
			}
			units = append(units, unit)
		}
	}
	return string(utf16.Decode(units))
}

// parseDirents decodes the slots of a directory up to the end marker.
func parseDirents(table *dirTable, data []byte) []*dirent {
	entries := make([]*dirent, 0, len(data)/slotSize/2)
	le := binary.LittleEndian
	var run longNameRun
	for i := 0; i+slotSize <= len(data); i += slotSize {
		slot := data[i : i+slotSize]
		if slot[0] == slotEnd {
			break
		}
		if slot[0] == slotDeleted {
			run.reset()
			continue
		}
		attr := fatfs.DirectoryAttr(slot[11])
		if attr&0x3f == fatfs.AttrLongName {
			run.add(slot)
			continue
		}
		d := &dirent{
			dir:      table,
			attr:     attr,
			ntCase:   slot[12] & (caseLowerBase | caseLowerExt),
			created:  dateTimeToTime(le.Uint16(slot[16:18]), le.Uint16(slot[14:16])),
			accessed: dateTimeToTime(le.Uint16(slot[18:20]), 0),
			modified: dateTimeToTime(le.Uint16(slot[24:26]), le.Uint16(slot[22:24])),
			cluster:  uint32(le.Uint16(slot[20:22]))<<16 | uint32(le.Uint16(slot[26:28])),
			size:     le.Uint32(slot[28:32]),
		}
		copy(d.short[:], slot[0:11])
		if d.short[0] == slotKanji {
			d.short[0] = slotDeleted
		}
		longName := run.name(checksum(d.short))
		switch {
		case attr.Has(fatfs.AttrVolumeId) && !attr.Has(fatfs.AttrDirectory):
			d.kind = kindVolume
		case d.short == shortKey(".", ""):
			d.kind = kindDot
		case d.short == shortKey("..", ""):
			d.kind = kindDotDot
		}
		if longName != "" && d.kind == kindRegular {
			d.name = longName
		} else {
			d.name = shortDisplay(d.short, d.ntCase)
		}
		entries = append(entries, d)
	}
	return entries
}
