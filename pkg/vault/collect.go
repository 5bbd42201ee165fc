package vault

import (
	"context"
	"sync"

	"github.com/harrisonrobin/taskbell/pkg/markdown"
	"github.com/harrisonrobin/taskbell/pkg/model"
)

// Scan is the outcome of collecting tasks from a corpus.
type Scan struct {
	Documents  int // documents read and parsed
	Excluded   int
	Tasks      []model.Task
	ReadErrors []*ReadError
}

type parseItem struct {
	index int
	doc   Document
}

type parseResult struct {
	tasks []model.Task
	err   *ReadError
}

// Collect reads and parses docs with up to workers goroutines. Documents matching exclude
// are skipped without being read. A failed read is recorded and does not stop the scan.
// Tasks keep document order, then line order.
func Collect(ctx context.Context, c Corpus, docs []Document, exclude []string, workers int) *Scan {
	if workers <= 0 {
		workers = 1
	}
	scan := &Scan{}

	var selected []Document
	for _, doc := range docs {
		if Excluded(doc, exclude) {
			scan.Excluded++
			continue
		}
		selected = append(selected, doc)
	}

	results := make([]parseResult, len(selected))
	workCh := make(chan parseItem)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range workCh {
				text, err := c.Read(ctx, w.doc.ID)
				if err != nil {
					results[w.index] = parseResult{err: AsReadError(w.doc.ID, err)}
					continue
				}
				results[w.index] = parseResult{tasks: markdown.ParseAll(text, w.doc.ID)}
			}
		}()
	}
	for i, doc := range selected {
		workCh <- parseItem{index: i, doc: doc}
	}
	close(workCh)
	wg.Wait()

	for _, r := range results {
		if r.err != nil {
			scan.ReadErrors = append(scan.ReadErrors, r.err)
			continue
		}
		scan.Documents++
		scan.Tasks = append(scan.Tasks, r.tasks...)
	}
	return scan
}
