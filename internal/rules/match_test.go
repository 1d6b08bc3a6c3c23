package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchStrCaseInsensitive(t *testing.T) {
	assert.Equal(t, Pass, matchStr("GET", "get", true))
	assert.Equal(t, Fail, matchStr("GET", "get", false))
}

func TestMatchBegEndSub(t *testing.T) {
	assert.Equal(t, Pass, matchBeg("/images/logo.png", "/images", false))
	assert.Equal(t, Pass, matchEnd("/images/logo.png", ".png", false))
	assert.Equal(t, Pass, matchSub("/images/logo.png", "logo", false))
	assert.Equal(t, Fail, matchSub("/images/logo.png", "missing", false))
}

func TestMatchDirMatchesWholeSegment(t *testing.T) {
	assert.Equal(t, Pass, matchDir("/a/img/b", "img", false))
	assert.Equal(t, Fail, matchDir("/a/imgx/b", "img", false))
}

func TestMatchDomMatchesSuffix(t *testing.T) {
	assert.Equal(t, Pass, matchDom("www.example.com", "example.com", false))
	assert.Equal(t, Pass, matchDom("example.com", "example.com", false))
	assert.Equal(t, Fail, matchDom("notexample.com", "example.com", false))
}

func TestMatchRegCaseInsensitive(t *testing.T) {
	assert.Equal(t, Pass, matchReg("HELLO world", "^hello", true))
	assert.Equal(t, Fail, matchReg("HELLO world", "^hello", false))
}

func TestMatchLen(t *testing.T) {
	assert.Equal(t, Pass, matchLen("abcd", "4", false))
	assert.Equal(t, Fail, matchLen("abcd", "5", false))
}

func TestMatchIPExactAndCIDR(t *testing.T) {
	assert.Equal(t, Pass, matchIP("10.0.0.1", "10.0.0.1", false))
	assert.Equal(t, Pass, matchIP("10.0.0.5", "10.0.0.0/24", false))
	assert.Equal(t, Fail, matchIP("10.1.0.5", "10.0.0.0/24", false))
}

func TestMatchInt(t *testing.T) {
	assert.Equal(t, Pass, matchInt(200, "200", false))
	assert.Equal(t, Pass, matchInt("200", "200", false))
	assert.Equal(t, Fail, matchInt(404, "200", false))
}
