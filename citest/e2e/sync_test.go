package e2e_test

import (
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/codewave-dev/codewave/internal/crdt"
)

var _ = Describe("Document Synchronization", func() {
	openState := func(projectID, filePath, replica string) *crdt.Document {
		var resp struct {
			State json.RawMessage `json:"state"`
		}
		err := client.PostJSON(ctx, "/document/open", map[string]string{
			"projectID": projectID,
			"filePath":  filePath,
		}, &resp)
		Expect(err).NotTo(HaveOccurred())

		doc, err := crdt.DecodeState(resp.State, replica)
		Expect(err).NotTo(HaveOccurred())
		return doc
	}

	submit := func(projectID, filePath, connectionID string, update []byte) {
		err := client.PostJSON(ctx, "/document/update", map[string]any{
			"projectID":    projectID,
			"filePath":     filePath,
			"update":       json.RawMessage(update),
			"connectionID": connectionID,
		}, nil)
		Expect(err).NotTo(HaveOccurred())
	}

	It("relays an edit from one editor to another, but never back", func() {
		const project, file = "sync-proj", "shared.txt"

		editorA, err := client.OpenSSE("projectID=" + project + "&file=" + file + "&connectionID=editor-a")
		Expect(err).NotTo(HaveOccurred())
		defer editorA.Close()

		editorB, err := client.OpenSSE("projectID=" + project + "&file=" + file + "&connectionID=editor-b")
		Expect(err).NotTo(HaveOccurred())
		defer editorB.Close()

		docA := openState(project, file, "replica-a")
		update, err := docA.InsertAt(0, "hello from a")
		Expect(err).NotTo(HaveOccurred())
		submit(project, file, "editor-a", update)

		// B receives the delta.
		ev, err := editorB.Wait("document.update", 5*time.Second)
		Expect(err).NotTo(HaveOccurred())
		var payload struct {
			Update json.RawMessage `json:"update"`
		}
		Expect(json.Unmarshal([]byte(ev.Data), &payload)).To(Succeed())
		Expect(payload.Update).To(MatchJSON(update))

		// A never sees its own update again.
		_, err = editorA.Wait("document.update", 300*time.Millisecond)
		Expect(err).To(HaveOccurred())
	})

	It("converges two editors making concurrent edits", func() {
		const project, file = "converge-proj", "doc.txt"

		docA := openState(project, file, "replica-a")
		docB := openState(project, file, "replica-b")

		updateA, err := docA.InsertAt(0, "left")
		Expect(err).NotTo(HaveOccurred())
		updateB, err := docB.InsertAt(0, "right")
		Expect(err).NotTo(HaveOccurred())

		// Both submit without having seen each other.
		submit(project, file, "editor-a", updateA)
		submit(project, file, "editor-b", updateB)

		merged := openState(project, file, "observer")
		text := merged.Text()
		Expect(text).To(ContainSubstring("left"))
		Expect(text).To(ContainSubstring("right"))
		Expect(len(text)).To(Equal(len("left") + len("right")))

		// The snapshot persisted after the debounce window matches too.
		Eventually(func() string {
			return openState(project, file, "late-observer").Text()
		}, 5*time.Second, 100*time.Millisecond).Should(Equal(text))
	})
})
