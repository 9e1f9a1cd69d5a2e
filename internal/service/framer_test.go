package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineFramerSplitAcrossReads(t *testing.T) {
	f := &lineFramer{}

	lines := f.Feed([]byte("data: {\"a\":"))
	assert.Empty(t, lines)

	lines = f.Feed([]byte("1}\ndata: [DO"))
	assert.Equal(t, []string{`data: {"a":1}`}, lines)

	lines = f.Feed([]byte("NE]\n"))
	assert.Equal(t, []string{"data: [DONE]"}, lines)
	assert.Equal(t, "", f.Rest())
}

func TestLineFramerCRLF(t *testing.T) {
	f := &lineFramer{}
	lines := f.Feed([]byte("one\r\ntwo\r\n"))
	assert.Equal(t, []string{"one", "two"}, lines)
}

func TestLineFramerRest(t *testing.T) {
	f := &lineFramer{}
	f.Feed([]byte("complete\npartial tail"))
	assert.Equal(t, "partial tail", f.Rest())
}

func TestLineFramerMultipleLinesOneRead(t *testing.T) {
	f := &lineFramer{}
	lines := f.Feed([]byte("a\nb\nc\n"))
	assert.Equal(t, []string{"a", "b", "c"}, lines)
}
