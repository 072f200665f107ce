package runtime

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/canectors/normalizer/internal/errhandling"
	"github.com/canectors/normalizer/internal/modules/filter"
	"github.com/canectors/normalizer/internal/modules/input"
	"github.com/canectors/normalizer/internal/modules/value"
	"github.com/canectors/normalizer/internal/names"
	"github.com/canectors/normalizer/pkg/record"
)

// recordingSink keeps every record it receives and counts finalization calls.
type recordingSink struct {
	got      []string
	closed   int
	aborted  int
	closeErr error
}

func (s *recordingSink) Process(rec record.Record) (filter.Result, error) {
	s.got = append(s.got, rec.Text("name"))
	return filter.Continue(rec), nil
}

func (s *recordingSink) Close() error {
	s.closed++
	return s.closeErr
}

func (s *recordingSink) Abort() error {
	s.aborted++
	return nil
}

// skipNamed vetoes records whose name is in the set.
type skipNamed map[string]bool

func (m skipNamed) Process(rec record.Record) (filter.Result, error) {
	if m[rec.Text("name")] {
		return filter.Skip("vetoed " + rec.Text("name")), nil
	}
	return filter.Continue(rec), nil
}

// failOn returns an error for the record with the given name.
type failOn string

func (f failOn) Process(rec record.Record) (filter.Result, error) {
	if rec.Text("name") == string(f) {
		return filter.Result{}, &errhandling.ParseError{Column: "name", Key: string(f), Value: string(f), Message: "unparseable"}
	}
	return filter.Continue(rec), nil
}

func named(ns ...string) []record.Record {
	out := make([]record.Record, len(ns))
	for i, n := range ns {
		out[i] = record.New(map[record.Column]string{"name": n})
	}
	return out
}

func TestRun_SkipDeliversRemainingInOrder(t *testing.T) {
	sink := &recordingSink{}
	chain, err := filter.NewChain(
		input.NewStatic(named("a", "b", "c", "d", "e")...),
		skipNamed{"c": true},
		sink,
	)
	require.NoError(t, err)

	var skipped []int
	r := NewRunner(chain, WithName("mobs"), WithPipelineID("mobs"),
		WithRecordHook(func(index int, res filter.Result) {
			if res.IsSkip() {
				skipped = append(skipped, index)
			}
		}))
	result, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, []string{"a", "b", "d", "e"}, sink.got)
	require.Equal(t, []int{3}, skipped)
	require.Equal(t, StatusSuccess, result.Status)
	require.Equal(t, 5, result.Fetched)
	require.Equal(t, 4, result.Delivered)
	require.Equal(t, 1, result.Skipped)
	require.Equal(t, "mobs", result.PipelineID)
	require.NotEmpty(t, result.RunID)
	require.Equal(t, 1, sink.closed)
	require.Zero(t, sink.aborted)
	require.Equal(t, StateDrained, r.State())
}

func TestRun_ConcatenatedSources(t *testing.T) {
	sink := &recordingSink{}
	src, err := input.NewConcat(
		input.NewStatic(named("r1")...),
		input.NewStatic(),
		input.NewStatic(named("r2", "r3")...),
	)
	require.NoError(t, err)
	chain, err := filter.NewChain(src, sink)
	require.NoError(t, err)

	result, err := NewRunner(chain).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"r1", "r2", "r3"}, sink.got)
	require.Equal(t, 3, result.Delivered)
}

func TestRun_EmptySourceStillCloses(t *testing.T) {
	sink := &recordingSink{}
	chain, err := filter.NewChain(input.NewStatic(), sink)
	require.NoError(t, err)

	result, err := NewRunner(chain).Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, result.Delivered)
	require.Equal(t, 1, sink.closed)
}

func TestRun_FatalErrorAborts(t *testing.T) {
	sink := &recordingSink{}
	chain, err := filter.NewChain(
		input.NewStatic(named("a", "b", "c")...),
		failOn("b"),
		sink,
	)
	require.NoError(t, err)

	r := NewRunner(chain)
	result, err := r.Run(context.Background())
	require.Error(t, err)

	var parseErr *errhandling.ParseError
	require.True(t, errors.As(err, &parseErr))
	require.Contains(t, err.Error(), "record 2")

	require.Equal(t, StatusError, result.Status)
	require.NotNil(t, result.Error)
	require.Equal(t, string(errhandling.CategoryParse), result.Error.Category)
	require.Equal(t, 2, result.Error.RecordIndex)
	require.True(t, result.Error.Fatal)
	require.Equal(t, 1, result.Delivered)

	require.Equal(t, []string{"a"}, sink.got)
	require.Zero(t, sink.closed, "aborted run must not close the sink")
	require.Equal(t, 1, sink.aborted)
	require.Equal(t, StateAborted, r.State())
}

func TestRun_FinalizeErrorKeepsDelivery(t *testing.T) {
	sink := &recordingSink{closeErr: errors.New("disk full")}
	chain, err := filter.NewChain(input.NewStatic(named("a", "b")...), sink)
	require.NoError(t, err)

	r := NewRunner(chain)
	result, err := r.Run(context.Background())

	var finErr *errhandling.FinalizeError
	require.True(t, errors.As(err, &finErr))
	require.False(t, errhandling.IsFatal(err))
	require.Equal(t, StatusPartial, result.Status)
	require.Equal(t, 2, result.Delivered)
	require.False(t, result.Error.Fatal)
	require.Equal(t, StateDrained, r.State())
}

func TestRun_Canceled(t *testing.T) {
	sink := &recordingSink{}
	chain, err := filter.NewChain(input.NewStatic(named("a")...), sink)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := NewRunner(chain).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, string(errhandling.CategoryCanceled), result.Error.Category)
	require.Empty(t, sink.got)
	require.Equal(t, 1, sink.aborted)
}

func TestRun_OnlyOnce(t *testing.T) {
	chain, err := filter.NewChain(input.NewStatic(), &recordingSink{})
	require.NoError(t, err)

	r := NewRunner(chain)
	_, err = r.Run(context.Background())
	require.NoError(t, err)
	_, err = r.Run(context.Background())
	require.ErrorIs(t, err, ErrAlreadyRun)

	_, err = NewRunner(nil).Run(context.Background())
	require.ErrorIs(t, err, ErrNilPipeline)
}

func TestRun_NamesSavedOnlyOnSuccess(t *testing.T) {
	build := func(t *testing.T, dir string, fail bool) (*Runner, *names.Set) {
		t.Helper()
		set, err := names.LoadSet(dir, []record.Column{"name"})
		require.NoError(t, err)
		b := filter.NewBuilder().
			Filter(input.NewStatic(named("slime", "bat")...)).
			Column("name", value.NewNames(set))
		if fail {
			b = b.Filter(failOn("bat"))
		}
		chain, err := b.Filter(&recordingSink{}).Result()
		require.NoError(t, err)
		return NewRunner(chain, WithNames(set)), set
	}

	t.Run("aborted", func(t *testing.T) {
		dir := t.TempDir()
		r, _ := build(t, dir, true)
		_, err := r.Run(context.Background())
		require.Error(t, err)
		_, statErr := os.Stat(filepath.Join(dir, "name.csv"))
		require.True(t, os.IsNotExist(statErr), "dictionary must not be written on abort")
	})

	t.Run("drained", func(t *testing.T) {
		dir := t.TempDir()
		r, _ := build(t, dir, false)
		result, err := r.Run(context.Background())
		require.NoError(t, err)
		require.Equal(t, 2, result.NamesAdded)
		data, err := os.ReadFile(filepath.Join(dir, "name.csv"))
		require.NoError(t, err)
		require.Equal(t, "bat\nslime\n", string(data))
	})
}
