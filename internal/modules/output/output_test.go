package output

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/canectors/normalizer/internal/database"
	"github.com/canectors/normalizer/pkg/record"
)

func sampleRecords() []record.Record {
	return []record.Record{
		{
			"name":  record.Scalar("Slime"),
			"life":  record.Scalar(record.Range{Min: "10", Max: "20"}),
			"drops": record.Strings("gel", "herb"),
		},
		{
			"name": record.Scalar("Bat"),
			"exp":  record.Scalar(float64(12)),
		},
	}
}

func TestCSVSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "mobs.csv")
	sink, err := NewCSVFromConfig(CSVConfig{Path: path, Columns: []string{"name", "life", "drops", "exp"}})
	require.NoError(t, err)

	for _, rec := range sampleRecords() {
		res, err := sink.Process(rec)
		require.NoError(t, err)
		require.True(t, res.IsContinue())
		require.Equal(t, rec, res.Record)
	}
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err), "output appears only on Close")

	require.NoError(t, sink.Close())
	require.Equal(t, 2, sink.Written())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "name,life,drops,exp\nSlime,10~20,\"gel\nherb\",\nBat,,,12\n", string(data))

	_, err = sink.Process(sampleRecords()[0])
	require.ErrorIs(t, err, ErrClosed)
}

func TestCSVSink_ColumnsFromFirstRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mobs.csv")
	sink, err := NewCSVFromConfig(CSVConfig{Path: path})
	require.NoError(t, err)

	_, err = sink.Process(record.New(map[record.Column]string{"name": "Slime", "area": "field"}))
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "area,name\nfield,Slime\n", string(data))
}

func TestCSVSink_AbortKeepsPreviousOutput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mobs.csv")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0o644))

	sink, err := NewCSVFromConfig(CSVConfig{Path: path})
	require.NoError(t, err)
	_, err = sink.Process(sampleRecords()[1])
	require.NoError(t, err)
	require.NoError(t, sink.Abort())
	require.NoError(t, sink.Close(), "Close after Abort is a no-op")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "old\n", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "staged file is removed")
}

func TestCSVSink_HeaderOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mobs.csv")
	sink, err := NewCSVFromConfig(CSVConfig{Path: path, Columns: []string{"name", "life"}})
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "name,life\n", string(data))
}

func TestFileSink_JSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mobs.jsonl")
	sink, err := NewFileFromConfig(ParseFileConfig(map[string]interface{}{"path": path}))
	require.NoError(t, err)
	for _, rec := range sampleRecords() {
		_, err := sink.Process(rec)
		require.NoError(t, err)
	}
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 2)
	require.Equal(t, map[string]any{"min": "10", "max": "20"}, lines[0]["life"])
	require.Equal(t, []any{"gel", "herb"}, lines[0]["drops"])
	require.Equal(t, float64(12), lines[1]["exp"])
}

func TestFileSink_Msgpack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mobs.msgpack")
	sink, err := NewFileFromConfig(FileConfig{Path: path, Format: FormatMsgpack})
	require.NoError(t, err)
	_, err = sink.Process(sampleRecords()[0])
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, msgpack.NewDecoder(bytes.NewReader(data)).Decode(&m))
	require.Equal(t, "Slime", m["name"])
	require.Equal(t, []any{"gel", "herb"}, m["drops"])

	_, err = NewFileFromConfig(FileConfig{Path: path, Format: "xml"})
	require.Error(t, err)
}

func TestBindTemplate(t *testing.T) {
	query, params, err := bindTemplate("INSERT INTO mobs (name, life) VALUES ({{name}}, {{ record.life }})", database.DriverPostgres)
	require.NoError(t, err)
	require.Equal(t, "INSERT INTO mobs (name, life) VALUES ($1, $2)", query)
	require.Equal(t, []record.Column{"name", "life"}, params)

	_, _, err = bindTemplate("VALUES ({{name)", database.DriverSQLite)
	require.Error(t, err)
	_, _, err = bindTemplate("VALUES ({{}})", database.DriverSQLite)
	require.Error(t, err)
	_, _, err = bindTemplate("VALUES (name}})", database.DriverSQLite)
	require.Error(t, err)
}

func openTestDB(t *testing.T) string {
	t.Helper()
	dsn := "sqlite://" + filepath.Join(t.TempDir(), "mobs.db")
	db, _, err := database.Open(database.Config{ConnectionString: dsn})
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE mobs (name TEXT NOT NULL UNIQUE, life TEXT, drops TEXT)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	return dsn
}

func countRows(t *testing.T, dsn string) int {
	t.Helper()
	db, _, err := database.Open(database.Config{ConnectionString: dsn})
	require.NoError(t, err)
	defer db.Close()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM mobs").Scan(&n))
	return n
}

func TestDatabaseSink_Table(t *testing.T) {
	dsn := openTestDB(t)
	sink, err := NewDatabaseFromConfig(DatabaseConfig{ConnectionString: dsn, Table: "mobs"},
		[]record.Column{"name", "life", "drops"})
	require.NoError(t, err)

	for _, rec := range sampleRecords() {
		_, err := sink.Process(rec)
		require.NoError(t, err)
	}
	require.NoError(t, sink.Close())

	db, _, err := database.Open(database.Config{ConnectionString: dsn})
	require.NoError(t, err)
	defer db.Close()
	var life, drops string
	require.NoError(t, db.QueryRow("SELECT life, drops FROM mobs WHERE name = 'Slime'").Scan(&life, &drops))
	require.Equal(t, "10~20", life)
	require.Equal(t, "gel\nherb", drops)
}

func TestDatabaseSink_TransactionAbort(t *testing.T) {
	dsn := openTestDB(t)
	sink, err := NewDatabaseFromConfig(DatabaseConfig{
		ConnectionString: dsn,
		Query:            "INSERT INTO mobs (name) VALUES ({{name}})",
		Transaction:      true,
	}, nil)
	require.NoError(t, err)

	_, err = sink.Process(sampleRecords()[0])
	require.NoError(t, err)
	require.NoError(t, sink.Abort())
	require.Zero(t, countRows(t, dsn))
}

func TestDatabaseSink_OnError(t *testing.T) {
	dsn := openTestDB(t)
	rec := record.New(map[record.Column]string{"name": "Slime"})

	skip, err := NewDatabaseFromConfig(DatabaseConfig{ConnectionString: dsn, Table: "mobs", Columns: []string{"name"}, OnError: OnErrorSkip}, nil)
	require.NoError(t, err)
	_, err = skip.Process(rec)
	require.NoError(t, err)
	res, err := skip.Process(rec)
	require.NoError(t, err)
	require.True(t, res.IsSkip())
	require.NoError(t, skip.Close())

	fail, err := NewDatabaseFromConfig(DatabaseConfig{ConnectionString: dsn, Table: "mobs", Columns: []string{"name"}}, nil)
	require.NoError(t, err)
	_, err = fail.Process(rec)
	dbErr := database.GetDatabaseError(err)
	require.NotNil(t, dbErr)
	require.Equal(t, database.CategoryConstraint, dbErr.Category)
	require.NoError(t, fail.Abort())
	require.Equal(t, 1, countRows(t, dsn))
}

func TestDatabaseSink_ConfigErrors(t *testing.T) {
	_, err := NewDatabaseFromConfig(DatabaseConfig{Table: "mobs"}, nil)
	require.ErrorIs(t, err, ErrDatabaseOutputMissingConnStr)

	_, err = NewDatabaseFromConfig(DatabaseConfig{ConnectionString: "sqlite://x.db"}, nil)
	require.ErrorIs(t, err, ErrDatabaseOutputMissingQuery)

	_, err = NewDatabaseFromConfig(DatabaseConfig{ConnectionString: "sqlite://x.db", Table: "mobs", OnError: "log"}, nil)
	require.Error(t, err)

	cfg := ParseDatabaseConfig(map[string]interface{}{
		"connectionString": "sqlite://x.db",
		"table":            "mobs",
		"columns":          []interface{}{"name", ""},
		"transaction":      true,
		"timeoutMs":        float64(500),
	})
	require.Equal(t, []string{"name"}, cfg.Columns)
	require.True(t, cfg.Transaction)
	require.Equal(t, 500, cfg.TimeoutMs)
}

func TestDiscardSink(t *testing.T) {
	sink := NewDiscard(1)
	for _, rec := range sampleRecords() {
		res, err := sink.Process(rec)
		require.NoError(t, err)
		require.True(t, res.IsContinue())
	}
	require.Equal(t, 2, sink.Count())
}

func TestInsertTemplate(t *testing.T) {
	got := insertTemplate("mobs", []string{"name", "life"})
	require.True(t, strings.HasPrefix(got, "INSERT INTO mobs (name, life) VALUES ({{name}}, {{life}})"))
}
