package doctree

import "fmt"

// Bookmark is a view over a pair of bookmark markers.
type Bookmark struct {
	Name  string
	Start *Node
	End   *Node
}

// Bookmarks returns every bookmark in document order of their starts.
// A bookmark whose end is missing has a nil End.
func (d *Document) Bookmarks() []*Bookmark {
	var out []*Bookmark
	byName := make(map[string]*Bookmark)
	for n := range d.Descendants() {
		switch p := n.data.(type) {
		case *BookmarkStart:
			if _, dup := byName[p.Name]; dup {
				continue
			}
			b := &Bookmark{Name: p.Name, Start: n}
			byName[p.Name] = b
			out = append(out, b)
		case *BookmarkEnd:
			if b, ok := byName[p.Name]; ok && b.End == nil {
				b.End = n
			}
		}
	}
	return out
}

// Bookmark finds a bookmark by name.
func (d *Document) Bookmark(name string) (*Bookmark, error) {
	for _, b := range d.Bookmarks() {
		if b.Name == name {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: bookmark %q", ErrNotFound, name)
}

// Remove deletes the bookmark markers, leaving the enclosed content.
func (b *Bookmark) Remove() {
	b.Start.detach()
	if b.End != nil {
		b.End.detach()
	}
}
