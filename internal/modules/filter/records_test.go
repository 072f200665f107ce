package filter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/canectors/normalizer/pkg/record"
)

func TestVeto_BlockList(t *testing.T) {
	m, err := NewVetoFromConfig(VetoConfig{Values: []string{"Slime"}}, "name")
	require.NoError(t, err)

	res, err := m.Process(record.New(map[record.Column]string{"name": "Slime"}))
	require.NoError(t, err)
	require.True(t, res.IsSkip())
	require.Contains(t, res.Reason, "Slime")

	res, err = m.Process(record.New(map[record.Column]string{"name": "Dragon"}))
	require.NoError(t, err)
	require.True(t, res.IsContinue())
	require.Equal(t, "Dragon", res.Record.Text("name"))
}

func TestVeto_Expression(t *testing.T) {
	m, err := NewVetoFromConfig(VetoConfig{Expression: `rank == "S" || "event" in tags`}, "name")
	require.NoError(t, err)

	tests := []struct {
		name string
		rec  record.Record
		skip bool
	}{
		{
			name: "scalar match",
			rec:  record.New(map[record.Column]string{"name": "a", "rank": "S"}),
			skip: true,
		},
		{
			name: "sequence match",
			rec: record.Record{
				"name": record.Scalar("b"),
				"tags": record.Strings("rare", "event"),
			},
			skip: true,
		},
		{
			name: "no match",
			rec: record.Record{
				"name": record.Scalar("c"),
				"rank": record.Scalar("A"),
				"tags": record.Strings("rare"),
			},
		},
		{
			name: "missing columns",
			rec:  record.New(map[record.Column]string{"name": "d"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := m.Process(tt.rec)
			require.NoError(t, err)
			require.Equal(t, tt.skip, res.IsSkip())
		})
	}
}

func TestVeto_ConfigErrors(t *testing.T) {
	_, err := NewVetoFromConfig(VetoConfig{}, "name")
	require.ErrorIs(t, err, ErrEmptyVeto)

	_, err = NewVetoFromConfig(VetoConfig{Values: []string{"x"}}, "")
	require.Error(t, err)

	_, err = NewVetoFromConfig(VetoConfig{Expression: "rank ==="}, "name")
	var vetoErr *VetoError
	require.ErrorAs(t, err, &vetoErr)
	require.Equal(t, ErrCodeInvalidExpression, vetoErr.Code)

	_, err = ParseVetoConfig(map[string]interface{}{"column": "name"})
	require.ErrorIs(t, err, ErrEmptyVeto)

	cfg, err := ParseVetoConfig(map[string]interface{}{
		"column": "id",
		"values": []interface{}{"1", "", "2"},
	})
	require.NoError(t, err)
	require.Equal(t, "id", cfg.Column)
	require.Equal(t, []string{"1", "2"}, cfg.Values)
}

func TestDedupe(t *testing.T) {
	m, err := NewDedupe([]record.Column{"name", "area"})
	require.NoError(t, err)

	inputs := []map[record.Column]string{
		{"name": "Slime", "area": "1"},
		{"name": "Slime", "area": "2"},
		{"name": "Slime", "area": "1"},
	}
	var skipped int
	for _, in := range inputs {
		res, err := m.Process(record.New(in))
		require.NoError(t, err)
		if res.IsSkip() {
			skipped++
		}
	}
	require.Equal(t, 1, skipped)

	_, err = NewDedupe(nil)
	require.Error(t, err)
}

func TestBackup(t *testing.T) {
	in := record.New(map[record.Column]string{"hp": "10~20", "name": "Slime"})

	res, err := NewBackup([]record.Column{"hp"}).Process(in)
	require.NoError(t, err)
	require.Equal(t, "10~20", res.Record.Text("hp_before"))
	require.False(t, res.Record.Has("name_before"))
	require.False(t, in.Has("hp_before"), "input record must not be modified")

	res, err = NewBackup(nil).Process(in)
	require.NoError(t, err)
	require.True(t, res.Record.Has("hp_before"))
	require.True(t, res.Record.Has("name_before"))
}

func TestDrop(t *testing.T) {
	cfg, err := ParseDropConfig(map[string]interface{}{
		"column":  "memo",
		"columns": []interface{}{"note", "memo"},
	})
	require.NoError(t, err)

	m, err := NewDropFromConfig(cfg)
	require.NoError(t, err)
	require.Len(t, m.columns, 2)

	in := record.New(map[record.Column]string{"name": "Slime", "memo": "x", "note": "y"})
	res, err := m.Process(in)
	require.NoError(t, err)
	require.Equal(t, []record.Column{"name"}, res.Record.Columns())
	require.True(t, in.Has("memo"))

	_, err = ParseDropConfig(map[string]interface{}{})
	require.Error(t, err)
	_, err = NewDropFromConfig(DropConfig{Columns: []string{""}})
	require.Error(t, err)
}

func TestTrace_PassesThrough(t *testing.T) {
	in := record.Record{"name": record.Scalar("Slime"), "drops": record.Strings("herb", "gel")}
	res, err := NewTrace("", nil).Process(in)
	require.NoError(t, err)
	require.True(t, res.IsContinue())
	require.True(t, res.Record.Get("drops").Equal(in.Get("drops")))
}
