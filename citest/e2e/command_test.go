package e2e_test

import (
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/codewave-dev/codewave/internal/crdt"
	"github.com/codewave-dev/codewave/pkg/types"
)

var _ = Describe("Command Execution", func() {
	It("runs echo hello end to end for a brand-new terminal", func() {
		stream, err := client.OpenSSE("projectID=echo-proj&terminal=t1")
		Expect(err).NotTo(HaveOccurred())
		defer stream.Close()

		err = client.PostJSON(ctx, "/session/command", map[string]string{
			"projectID":  "echo-proj",
			"terminalID": "t1",
			"command":    "echo hello",
		}, nil)
		Expect(err).NotTo(HaveOccurred())

		// First command provisions the session, so readiness precedes output.
		_, err = stream.Wait("session.ready", 10*time.Second)
		Expect(err).NotTo(HaveOccurred())

		out, err := stream.Wait("terminal.output", 10*time.Second)
		Expect(err).NotTo(HaveOccurred())

		var ev types.TerminalEvent
		Expect(json.Unmarshal([]byte(out.Data), &ev)).To(Succeed())
		Expect(ev.Data).To(ContainSubstring("hello"))

		// echo writes nothing, so the session returns to ready with the
		// project still empty in storage.
		Eventually(func() types.SessionState {
			info, ok := testApp.Sessions.Get(types.SessionKey{ProjectID: "echo-proj", TerminalID: "t1"})
			if !ok {
				return ""
			}
			return info.State
		}, 10*time.Second, 100*time.Millisecond).Should(Equal(types.SessionReady))
	})

	It("persists files a command creates", func() {
		stream, err := client.OpenSSE("projectID=build-proj&terminal=t1")
		Expect(err).NotTo(HaveOccurred())
		defer stream.Close()

		err = client.PostJSON(ctx, "/session/command", map[string]string{
			"projectID":  "build-proj",
			"terminalID": "t1",
			"command":    "echo generated > out.txt",
		}, nil)
		Expect(err).NotTo(HaveOccurred())

		_, err = stream.Wait("session.ready", 10*time.Second)
		Expect(err).NotTo(HaveOccurred())

		// The reconciliation after the command lands the file in the store,
		// from where a document open can read it.
		Eventually(func() string {
			var resp struct {
				State json.RawMessage `json:"state"`
			}
			if err := client.PostJSON(ctx, "/document/open", map[string]string{
				"projectID": "build-proj",
				"filePath":  "out.txt",
			}, &resp); err != nil {
				return ""
			}
			doc, err := crdt.DecodeState(resp.State, "reader")
			if err != nil {
				return ""
			}
			return doc.Text()
		}, 10*time.Second, 200*time.Millisecond).Should(ContainSubstring("generated"))
	})

	It("treats closing an unknown session as a no-op", func() {
		err := client.PostJSON(ctx, "/session/close", map[string]string{
			"projectID":  "nobody",
			"terminalID": "nowhere",
		}, nil)
		Expect(err).NotTo(HaveOccurred())
	})
})
