package fatfs

type DirectoryAttr uint8

const (
	AttrReadOnly  DirectoryAttr = 0x01
	AttrHidden    DirectoryAttr = 0x02
	AttrSystem    DirectoryAttr = 0x04
	AttrVolumeId  DirectoryAttr = 0x08
	AttrDirectory DirectoryAttr = 0x10
	AttrArchive   DirectoryAttr = 0x20
	AttrLongName                = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeId
)

// Has reports whether every bit of flag is set.
func (a DirectoryAttr) Has(flag DirectoryAttr) bool {
	return a&flag == flag
}

// Attributed is implemented by entries whose format stores DOS
// attribute bits.
type Attributed interface {
	Attr() DirectoryAttr
	SetAttr(attr DirectoryAttr, state bool) error
}

// Identity is implemented by entries that can tell whether another
// handle refers to the same file or directory of the same volume.
type Identity interface {
	Same(other Entry) bool
}
