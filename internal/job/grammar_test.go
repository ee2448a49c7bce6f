package job

import (
	"testing"

	"github.com/paulo-2048/kvsd/internal/store"
	"gotest.tools/v3/assert"
)

func TestParseLineEmptyAndComment(t *testing.T) {
	assert.Equal(t, ParseLine("").Kind, KindEmpty)
	assert.Equal(t, ParseLine("   ").Kind, KindEmpty)
	assert.Equal(t, ParseLine("# a comment").Kind, KindEmpty)
}

func TestParseLineWrite(t *testing.T) {
	cmd := ParseLine("WRITE [(x,1)(y,2)]")
	assert.Equal(t, cmd.Kind, KindWrite)
	assert.DeepEqual(t, cmd.Pairs, []store.Pair{{Key: "x", Value: "1"}, {Key: "y", Value: "2"}})
}

func TestParseLineRead(t *testing.T) {
	cmd := ParseLine("READ [x,y]")
	assert.Equal(t, cmd.Kind, KindRead)
	assert.DeepEqual(t, cmd.Keys, []string{"x", "y"})
}

func TestParseLineDelete(t *testing.T) {
	cmd := ParseLine("DELETE[x]")
	assert.Equal(t, cmd.Kind, KindDelete)
	assert.DeepEqual(t, cmd.Keys, []string{"x"})
}

func TestParseLineShowWaitBackupHelp(t *testing.T) {
	assert.Equal(t, ParseLine("SHOW").Kind, KindShow)
	assert.Equal(t, ParseLine("BACKUP").Kind, KindBackup)
	assert.Equal(t, ParseLine("HELP").Kind, KindHelp)

	wait := ParseLine("WAIT 100")
	assert.Equal(t, wait.Kind, KindWait)
	assert.Equal(t, wait.WaitMS, 100)
}

func TestParseLineInvalid(t *testing.T) {
	assert.Equal(t, ParseLine("write [(x,1)]").Kind, KindInvalid) // case-sensitive
	assert.Equal(t, ParseLine("WRITE []").Kind, KindInvalid)
	assert.Equal(t, ParseLine("READ []").Kind, KindInvalid)
	assert.Equal(t, ParseLine("GARBAGE").Kind, KindInvalid)
}
