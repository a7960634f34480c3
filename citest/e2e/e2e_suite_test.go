package e2e_test

import (
	"context"
	"net/http/httptest"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/codewave-dev/codewave/citest/testutil"
	"github.com/codewave-dev/codewave/internal/app"
	"github.com/codewave-dev/codewave/internal/server"
	"github.com/codewave-dev/codewave/internal/worker"
	"github.com/codewave-dev/codewave/pkg/types"
)

var (
	testApp    *app.App
	testServer *httptest.Server
	client     *testutil.Client
	ctx        context.Context

	stopWorker context.CancelFunc
	workerDone chan struct{}
)

func TestE2E(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "E2E Suite")
}

var _ = BeforeSuite(func() {
	ctx = context.Background()

	var err error
	testApp, err = app.New(&types.Config{
		DataDir: GinkgoT().TempDir(),
		Sync:    &types.SyncConfig{PersistDebounceMs: 100},
		Queue:   &types.QueueConfig{VisibilityTimeoutSec: 60, LongPollSec: 1},
		Worker: &types.WorkerConfig{
			Backend:      "shell",
			WorkspaceDir: GinkgoT().TempDir(),
		},
	})
	Expect(err).NotTo(HaveOccurred(), "Failed to build application")

	srv := server.New(server.DefaultConfig(), testApp.Docs, testApp.Queue, testApp.Sessions, testApp.Bus)
	testServer = httptest.NewServer(srv.Router())
	client = testutil.NewClient(testServer.URL)

	// One in-process worker consumes the queue for the whole suite.
	var workerCtx context.Context
	workerCtx, stopWorker = context.WithCancel(context.Background())
	workerDone = make(chan struct{})
	w := worker.New(testApp.Queue, testApp.Sessions, worker.Options{})
	go func() {
		defer close(workerDone)
		w.Run(workerCtx)
	}()
})

var _ = AfterSuite(func() {
	if stopWorker != nil {
		stopWorker()
		<-workerDone
	}
	if testServer != nil {
		testServer.Close()
	}
	if testApp != nil {
		testApp.Close(context.Background())
	}
})
