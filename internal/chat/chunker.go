package chat

import "regexp"

// A chunk ends after a single CJK ideograph or after a word and its trailing whitespace.
var chunkRe = regexp.MustCompile(`[\x{4E00}-\x{9FFF}]|\S+\s+`)

// Chunker regroups streamed model text into word or character sized chunks so the
// client renders it smoothly. Everything pushed comes back out exactly once, in order.
type Chunker struct {
	buf string
}

// Push adds text and returns the chunks that are complete.
func (c *Chunker) Push(text string) []string {
	c.buf += text

	var out []string
	for {
		loc := chunkRe.FindStringIndex(c.buf)
		if loc == nil {
			return out
		}
		out = append(out, c.buf[:loc[1]])
		c.buf = c.buf[loc[1]:]
	}
}

// Flush returns whatever is still buffered.
func (c *Chunker) Flush() string {
	rest := c.buf
	c.buf = ""
	return rest
}
