package tools

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/spotter/internal/fitness"
)

func TestNewToolRegistry(t *testing.T) {
	svc, err := fitness.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "fitness.db"))
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })

	tests := []struct {
		name string
		svc  fitness.Service
		set  ToolSet
		want []string
	}{
		{
			name: "default",
			svc:  svc,
			set:  DefaultToolSet(),
			want: []string{"notify", "ask_user", "idle", "log_exercise", "generate_workout", "modify_workout", "add_goal", "search_exercises"},
		},
		{
			name: "no search",
			svc:  svc,
			set:  ToolSet{Workout: true},
			want: []string{"notify", "ask_user", "idle", "log_exercise", "generate_workout", "modify_workout", "add_goal"},
		},
		{name: "control only", svc: svc, set: ToolSet{}, want: []string{"notify", "ask_user", "idle"}},
		{name: "no service", svc: nil, set: DefaultToolSet(), want: []string{"notify", "ask_user", "idle"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, err := NewToolRegistry(tt.svc, tt.set)
			require.NoError(t, err)
			assert.Equal(t, tt.want, reg.Names())
			assert.NoError(t, reg.Require("idle", "ask_user"))
		})
	}
}
