package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ashwin-z/savereelify.com/internal/api"
	"github.com/Ashwin-z/savereelify.com/internal/config"
	"github.com/Ashwin-z/savereelify.com/internal/media"
)

type fakeFetcher struct {
	calls []string
}

func (f *fakeFetcher) FetchReel(_ context.Context, rawURL string) (media.Result, error) {
	f.calls = append(f.calls, "reel")
	return media.Result{Success: true, Type: media.PostTypeReel, DownloadURL: rawURL}, nil
}

func (f *fakeFetcher) FetchPost(_ context.Context, rawURL string) (media.Result, error) {
	f.calls = append(f.calls, "post")
	if rawURL == "bad" {
		return media.Result{}, media.ErrInvalidInput
	}
	return media.Result{Success: true, Type: media.PostTypePost, DownloadURL: rawURL}, nil
}

type fakeApp struct {
	fetcher *fakeFetcher
	serve   func(ctx context.Context) error
	closed  atomic.Int32
}

func (a *fakeApp) ListenAndServe(ctx context.Context) error {
	if a.serve != nil {
		return a.serve(ctx)
	}
	return nil
}

func (a *fakeApp) Close(context.Context) error {
	a.closed.Add(1)
	return nil
}

func (a *fakeApp) Fetcher() api.Fetcher { return a.fetcher }

func withFakeApp(t *testing.T, a *fakeApp) {
	t.Helper()
	orig := newApp
	newApp = func(context.Context, config.Config, *zap.Logger) (application, error) {
		return a, nil
	}
	t.Cleanup(func() { newApp = orig })
}

func run(args ...string) (string, error) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestFetchCommandPrintsResult(t *testing.T) {
	a := &fakeApp{fetcher: &fakeFetcher{}}
	withFakeApp(t, a)

	out, err := run("fetch", "https://www.instagram.com/reel/C9abcDEF_12/")
	require.NoError(t, err)
	var res media.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Equal(t, media.PostTypeReel, res.Type)
	require.Equal(t, []string{"reel"}, a.fetcher.calls)
	require.EqualValues(t, 1, a.closed.Load())
}

func TestFetchCommandPostFlag(t *testing.T) {
	a := &fakeApp{fetcher: &fakeFetcher{}}
	withFakeApp(t, a)

	_, err := run("fetch", "--post", "https://www.instagram.com/p/Cxyz123/")
	require.NoError(t, err)
	require.Equal(t, []string{"post"}, a.fetcher.calls)

	_, err = run("fetch", "--post", "bad")
	require.ErrorIs(t, err, media.ErrInvalidInput)
}

func TestFetchCommandRequiresURL(t *testing.T) {
	withFakeApp(t, &fakeApp{fetcher: &fakeFetcher{}})

	_, err := run("fetch")
	require.Error(t, err)
}

func TestServeCommandClosesApp(t *testing.T) {
	a := &fakeApp{fetcher: &fakeFetcher{}}
	withFakeApp(t, a)

	_, err := run("serve")
	require.NoError(t, err)
	require.EqualValues(t, 1, a.closed.Load())

	a.serve = func(context.Context) error { return errors.New("listen: address in use") }
	_, err = run("serve")
	require.ErrorContains(t, err, "address in use")
	require.EqualValues(t, 2, a.closed.Load())
}

func TestServeRecoversPanic(t *testing.T) {
	a := &fakeApp{serve: func(context.Context) error { panic("boom") }}
	var code atomic.Int32
	orig := exit
	exit = func(c int) { code.Store(int32(c)) }
	t.Cleanup(func() { exit = orig })

	err := serve(context.Background(), a, time.Second, zap.NewNop())
	require.NoError(t, err)
	require.EqualValues(t, 1, code.Load())
	require.EqualValues(t, 1, a.closed.Load())
}
