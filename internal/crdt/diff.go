package crdt

import (
	"github.com/sergi/go-diff/diffmatchpatch"
)

// ApplyText edits the document so its content becomes newText, deriving
// minimal insert/delete operations from a diff against the current content.
// It returns the update to broadcast, or nil when nothing changed. This is
// how whole-file changes made outside the editor (compilers, formatters,
// package managers) are folded into existing document state without losing
// concurrent edits.
func (d *Document) ApplyText(newText string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	oldText := d.textLocked()
	if oldText == newText {
		return nil, nil
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldText, newText, false)

	var ops []op
	pos := 0
	for _, diff := range diffs {
		n := len([]rune(diff.Text))
		switch diff.Type {
		case diffmatchpatch.DiffEqual:
			pos += n
		case diffmatchpatch.DiffDelete:
			o := d.deleteLocked(pos, n)
			if len(o.IDs) > 0 {
				ops = append(ops, op{Delete: &deleteOp{IDs: o.IDs}})
			}
		case diffmatchpatch.DiffInsert:
			o := d.insertLocked(pos, diff.Text)
			ops = append(ops, op{Insert: &o})
			pos += n
		}
	}

	if len(ops) == 0 {
		return nil, nil
	}
	return d.encodeUpdate(ops)
}
