package report

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuya-takeyama/lansync/pkg/executor"
	"github.com/yuya-takeyama/lansync/pkg/planner"
	"github.com/yuya-takeyama/lansync/pkg/s3client"
)

var loc = Locations{Server: "192.168.1.20:5000", Root: "/srv/share"}

func TestNewPlanResult(t *testing.T) {
	items := []planner.Item{
		{Action: planner.ActionDelete, Path: "old.txt", Size: 3, Reason: planner.ReasonRemoved},
		{Action: planner.ActionDownload, Path: "docs/a.txt", Size: 10, Reason: planner.ReasonChanged},
		{Action: planner.ActionDownload, Path: "new.txt", Size: 4, Reason: planner.ReasonNew},
	}

	plan := NewPlanResult(items, loc)

	assert.Equal(t, PlanSummary{Create: 1, Update: 1, Delete: 1}, plan.Summary)
	require.Len(t, plan.Files, 3)
	assert.Equal(t, PlanFile{
		Action: "delete",
		Target: filepath.Join("/srv/share", "old.txt"),
		Reason: "not on server",
	}, plan.Files[0])
	assert.Equal(t, PlanFile{
		Action: "update",
		Source: "lansync://192.168.1.20:5000/docs/a.txt",
		Target: filepath.Join("/srv/share", "docs", "a.txt"),
		Size:   10,
		Reason: "checksum differs",
	}, plan.Files[1])
	assert.Equal(t, "create", plan.Files[2].Action)
}

func TestNewPlanResultEmpty(t *testing.T) {
	plan := NewPlanResult(nil, loc)

	data, err := json.Marshal(plan)
	require.NoError(t, err)
	assert.JSONEq(t, `{"files":[],"summary":{"create":0,"update":0,"delete":0}}`, string(data))
}

func TestNewSyncResult(t *testing.T) {
	results := []executor.Result{
		{Item: planner.Item{Action: planner.ActionDelete, Path: "old.txt"}},
		{Item: planner.Item{Action: planner.ActionDelete, Path: "busy.txt"}, Error: errors.New("permission denied")},
		{Item: planner.Item{Action: planner.ActionDownload, Path: "new.txt", Reason: planner.ReasonNew}, Bytes: 4},
		{Item: planner.Item{Action: planner.ActionDownload, Path: "a.txt", Reason: planner.ReasonChanged}, Bytes: 9},
		{Item: planner.Item{Action: planner.ActionDownload, Path: "bad.txt", Reason: planner.ReasonNew}, Error: errors.New("checksum mismatch")},
	}

	sync := NewSyncResult(results, loc)

	assert.Equal(t, ResultSummary{Created: 1, Updated: 1, Deleted: 1, Failed: 2}, sync.Summary)
	require.Len(t, sync.Files, 3)
	assert.Equal(t, "deleted", sync.Files[0].Action)
	assert.Equal(t, ResultFile{
		Action: "created",
		Source: "lansync://192.168.1.20:5000/new.txt",
		Target: filepath.Join("/srv/share", "new.txt"),
		Bytes:  4,
	}, sync.Files[1])
	assert.Equal(t, "updated", sync.Files[2].Action)

	require.Len(t, sync.Errors, 2)
	assert.Equal(t, ErrorFile{
		Action: "delete",
		Target: filepath.Join("/srv/share", "busy.txt"),
		Error:  "permission denied",
	}, sync.Errors[0])
	assert.Equal(t, "create", sync.Errors[1].Action)
	assert.Equal(t, "lansync://192.168.1.20:5000/bad.txt", sync.Errors[1].Source)
}

type fakeS3 struct {
	reqs []*s3client.PutObjectRequest
	err  error
}

func (f *fakeS3) PutObject(_ context.Context, req *s3client.PutObjectRequest) error {
	f.reqs = append(f.reqs, req)
	return f.err
}

func TestWriterLocal(t *testing.T) {
	fs := afero.NewMemMapFs()
	w := NewWriter(fs, nil)

	require.NoError(t, w.Write(context.Background(), "/out/reports/plan.json", NewPlanResult(nil, loc)))

	data, err := afero.ReadFile(fs, "/out/reports/plan.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"files":[],"summary":{"create":0,"update":0,"delete":0}}`, string(data))
	assert.Contains(t, string(data), "\n  \"files\"")
}

func TestWriterS3(t *testing.T) {
	fake := &fakeS3{}
	calls := 0
	w := NewWriter(afero.NewMemMapFs(), func(context.Context) (s3client.Client, error) {
		calls++
		return fake, nil
	})

	ctx := context.Background()
	require.NoError(t, w.Write(ctx, "s3://reports/run/plan.json", NewPlanResult(nil, loc)))
	require.NoError(t, w.Write(ctx, "s3://reports/run/result.json", NewSyncResult(nil, loc)))

	assert.Equal(t, 1, calls)
	require.Len(t, fake.reqs, 2)
	assert.Equal(t, "reports", fake.reqs[0].Bucket)
	assert.Equal(t, "run/plan.json", fake.reqs[0].Key)
	assert.Equal(t, "application/json", fake.reqs[0].ContentType)
	assert.JSONEq(t, `{"files":[],"errors":[],"summary":{"created":0,"updated":0,"deleted":0,"failed":0}}`, string(fake.reqs[1].Body))
}

func TestWriterS3Errors(t *testing.T) {
	ctx := context.Background()

	w := NewWriter(afero.NewMemMapFs(), nil)
	assert.Error(t, w.Write(ctx, "s3://reports/plan.json", PlanResult{}))

	w = NewWriter(afero.NewMemMapFs(), func(context.Context) (s3client.Client, error) {
		return &fakeS3{}, nil
	})
	assert.Error(t, w.Write(ctx, "s3://reports/", PlanResult{}))

	failing := &fakeS3{err: errors.New("access denied")}
	w = NewWriter(afero.NewMemMapFs(), func(context.Context) (s3client.Client, error) {
		return failing, nil
	})
	assert.ErrorContains(t, w.Write(ctx, "s3://reports/plan.json", PlanResult{}), "access denied")
}
