package app

import (
	"bytes"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgress(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf, "system_a", 8192)
	start := p.update.StartedAt
	p.now = func() time.Time { return start.Add(2 * time.Second) }

	p.Add(4096)
	update := p.Update()
	assert.Equal(t, 50, update.Percent())
	assert.Contains(t, buf.String(), "system_a: 4K / 8K (50%) 2K/s ETA 2s")

	p.Add(4096)
	p.Done()
	assert.Equal(t, int64(8192), p.Update().Completed)
	assert.Contains(t, buf.String(), "system_a: wrote 8K in 2s")
}

func TestContextConfigureLogging(t *testing.T) {
	tests := []struct {
		name      string
		ctx       func() *Context
		level     string
		wantErr   bool
		wantLevel logrus.Level
		wantJSON  bool
	}{
		{name: "level from config", ctx: NewContext, level: "warn", wantLevel: logrus.WarnLevel},
		{
			name:      "verbose",
			ctx:       func() *Context { c := NewContext(); c.Verbose = true; return c },
			level:     "info",
			wantLevel: logrus.DebugLevel,
		},
		{
			name:      "quiet wins",
			ctx:       func() *Context { c := NewContext(); c.Quiet = true; c.Verbose = true; return c },
			level:     "info",
			wantLevel: logrus.ErrorLevel,
		},
		{
			name:      "json output",
			ctx:       func() *Context { c := NewContext(); c.OutputFormat = FormatJSON; return c },
			level:     "info",
			wantLevel: logrus.InfoLevel,
			wantJSON:  true,
		},
		{name: "bad level", ctx: NewContext, level: "loud", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.ctx()
			err := c.ConfigureLogging(tt.level)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLevel, c.Logger.GetLevel())
			_, isJSON := c.Logger.Formatter.(*logrus.JSONFormatter)
			assert.Equal(t, tt.wantJSON, isJSON)
		})
	}
}

func TestContextRender(t *testing.T) {
	var out bytes.Buffer
	c := NewContext()
	c.Out = &out
	c.OutputFormat = FormatJSON

	require.NoError(t, c.Render(lunResult{LUN: 2}))
	assert.Contains(t, out.String(), `"lun": 2`)
}

func TestContextProgressQuiet(t *testing.T) {
	var errOut bytes.Buffer
	c := NewContext()
	c.ErrOut = &errOut
	c.Quiet = true

	p := c.NewProgress("boot_a", 10)
	p.Add(10)
	p.Done()
	assert.Empty(t, errOut.String())
}

func TestContextTimeout(t *testing.T) {
	c := NewContext()
	child, cancel := c.WithTimeout(time.Millisecond)
	defer cancel()
	<-child.Done()
	assert.Error(t, child.Err())
	assert.NoError(t, c.Err())
}
