package text

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	DefaultChunkWords   = 500
	DefaultOverlapWords = 50
)

// Document is the article content handed to the chunker.
type Document struct {
	Title     string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Chunk struct {
	ID          string   `json:"id"`
	ArticleID   string   `json:"articleId"`
	ChunkIndex  int      `json:"chunkIndex"`
	HeadingPath []string `json:"headingPath"`
	Text        string   `json:"text"`
	ContentHash string   `json:"contentHash"`
}

type Chunker struct {
	size    int
	overlap int
}

// NewChunker returns a word-window chunker. Non-positive sizes fall back to
// the defaults and the overlap is clamped below the window size.
func NewChunker(chunkWords, overlapWords int) *Chunker {
	if chunkWords <= 0 {
		chunkWords = DefaultChunkWords
	}
	if overlapWords < 0 {
		overlapWords = 0
	}
	if overlapWords >= chunkWords {
		overlapWords = chunkWords - 1
	}
	return &Chunker{size: chunkWords, overlap: overlapWords}
}

var (
	headingRe = regexp.MustCompile(`^(#{1,6})[ \t]+(.+?)[ \t#]*$`)
	fenceRe   = regexp.MustCompile("^[ \t]{0,3}(```|~~~)")
)

type section struct {
	path []string
	body []string
}

// Chunk splits doc into heading sections and then into overlapping word
// windows. Output depends only on doc.Content and articleID.
func (c *Chunker) Chunk(articleID string, doc Document) []Chunk {
	var chunks []Chunk
	for _, sec := range splitSections(doc.Content) {
		words := strings.Fields(strings.Join(sec.body, "\n"))
		for _, window := range c.windows(words) {
			text := strings.Join(window, " ")
			idx := len(chunks)
			chunks = append(chunks, Chunk{
				ID:          fmt.Sprintf("%s_%d", articleID, idx),
				ArticleID:   articleID,
				ChunkIndex:  idx,
				HeadingPath: append([]string(nil), sec.path...),
				Text:        text,
				ContentHash: ContentHash(text),
			})
		}
	}
	return chunks
}

func (c *Chunker) windows(words []string) [][]string {
	if len(words) == 0 {
		return nil
	}
	step := c.size - c.overlap
	if step < 1 {
		step = 1
	}

	var out [][]string
	for start := 0; ; start += step {
		end := start + c.size
		if end >= len(words) {
			out = append(out, words[start:])
			return out
		}
		out = append(out, words[start:end])
	}
}

// splitSections walks the document line by line, treating ATX headings
// outside fenced code blocks as section boundaries.
func splitSections(content string) []section {
	var (
		sections []section
		stack    []string
		levels   []int
		cur      = section{}
		inFence  bool
		fence    string
	)

	for _, line := range strings.Split(content, "\n") {
		if m := fenceRe.FindStringSubmatch(line); m != nil {
			switch {
			case !inFence:
				inFence, fence = true, m[1]
			case m[1] == fence:
				inFence = false
			}
			cur.body = append(cur.body, line)
			continue
		}
		if inFence {
			cur.body = append(cur.body, line)
			continue
		}

		m := headingRe.FindStringSubmatch(line)
		if m == nil {
			cur.body = append(cur.body, line)
			continue
		}

		sections = append(sections, cur)

		level := len(m[1])
		for len(levels) > 0 && levels[len(levels)-1] >= level {
			levels = levels[:len(levels)-1]
			stack = stack[:len(stack)-1]
		}
		levels = append(levels, level)
		stack = append(stack, strings.TrimSpace(m[2]))
		cur = section{path: append([]string(nil), stack...)}
	}
	return append(sections, cur)
}

// ContentHash is the hex sha256 of text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// EmbeddingInput builds the string sent to the embedding provider for a chunk.
func EmbeddingInput(title string, c Chunk) string {
	var sb strings.Builder
	if title != "" {
		sb.WriteString("Title: ")
		sb.WriteString(title)
		sb.WriteString("\n")
	}
	if len(c.HeadingPath) > 0 {
		sb.WriteString("Section: ")
		sb.WriteString(strings.Join(c.HeadingPath, " > "))
		sb.WriteString("\n")
	}
	if sb.Len() > 0 {
		sb.WriteString("---\n")
	}
	sb.WriteString(c.Text)
	return sb.String()
}
