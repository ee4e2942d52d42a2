// Package tagvisit walks the elements of a rendered HTML document, lets
// registered visitors inspect and mutate each one, and re-serialises the
// result.
//
// Every element has a stable XPath: /html, /html/head, /html/body, then one
// tag[n] step per level where n is the 1-based position among element
// siblings with the same tag. The XPath is what URL metrics report back, so it
// must not depend on attributes the visitors add.
package tagvisit

import (
	"bytes"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// MetaAttrPrefix prefixes attributes written through SetMetaAttr.
const MetaAttrPrefix = "data-od-"

// Processor iterates over the elements of a parsed document in document order.
type Processor struct {
	doc      *html.Node
	order    []*html.Node
	paths    map[*html.Node]string
	pos      int
	headHTML []string
}

// NewProcessor parses r into a document ready to be walked.
func NewProcessor(r io.Reader) (*Processor, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("tagvisit: parse: %w", err)
	}
	p := &Processor{doc: doc, paths: make(map[*html.Node]string), pos: -1}
	p.index(doc, "")
	return p, nil
}

// ParseString is NewProcessor over a string.
func ParseString(s string) (*Processor, error) {
	return NewProcessor(strings.NewReader(s))
}

func (p *Processor) index(n *html.Node, parentPath string) {
	counts := make(map[string]int)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		tag := strings.ToLower(c.Data)
		counts[tag]++

		var path string
		switch {
		case n.Type == html.DocumentNode && tag == "html":
			path = "/html"
		case parentPath == "/html" && (tag == "head" || tag == "body"):
			path = "/html/" + tag
		default:
			path = parentPath + "/" + tag + "[" + strconv.Itoa(counts[tag]) + "]"
		}
		p.paths[c] = path
		p.order = append(p.order, c)
		p.index(c, path)
	}
}

// Next advances to the next element. It returns false once every element has
// been visited.
func (p *Processor) Next() bool {
	if p.pos+1 >= len(p.order) {
		p.pos = len(p.order)
		return false
	}
	p.pos++
	return true
}

// Reset rewinds the walk to before the first element.
func (p *Processor) Reset() { p.pos = -1 }

// Node returns the current element, or nil outside a walk.
func (p *Processor) Node() *html.Node {
	if p.pos < 0 || p.pos >= len(p.order) {
		return nil
	}
	return p.order[p.pos]
}

// Tag returns the lower-case tag name of the current element.
func (p *Processor) Tag() string {
	if n := p.Node(); n != nil {
		return strings.ToLower(n.Data)
	}
	return ""
}

// XPath returns the XPath of the current element.
func (p *Processor) XPath() string { return p.paths[p.Node()] }

// Attr returns the value of attribute name on the current element.
func (p *Processor) Attr(name string) (string, bool) {
	n := p.Node()
	if n == nil {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr sets attribute name on the current element, replacing any value.
func (p *Processor) SetAttr(name, value string) {
	n := p.Node()
	if n == nil {
		return
	}
	name = strings.ToLower(name)
	for i, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}

// RemoveAttr deletes attribute name from the current element.
func (p *Processor) RemoveAttr(name string) {
	n := p.Node()
	if n == nil {
		return
	}
	n.Attr = slices.DeleteFunc(n.Attr, func(a html.Attribute) bool {
		return a.Namespace == "" && strings.EqualFold(a.Key, name)
	})
}

// HasClass reports whether class is one of the current element's classes.
func (p *Processor) HasClass(class string) bool {
	v, ok := p.Attr("class")
	if !ok {
		return false
	}
	return slices.Contains(strings.Fields(v), class)
}

// SetMetaAttr sets data-od-<name> on the current element.
func (p *Processor) SetMetaAttr(name, value string) {
	p.SetAttr(MetaAttrPrefix+name, value)
}

// AppendHeadHTML queues markup to insert at the end of <head> on Render.
func (p *Processor) AppendHeadHTML(markup string) {
	p.headHTML = append(p.headHTML, markup)
}

// Render flushes queued head markup and writes the document to w.
func (p *Processor) Render(w io.Writer) error {
	if err := p.flushHead(); err != nil {
		return err
	}
	if err := html.Render(w, p.doc); err != nil {
		return fmt.Errorf("tagvisit: render: %w", err)
	}
	return nil
}

// String renders the document to a string.
func (p *Processor) String() string {
	var buf bytes.Buffer
	p.Render(&buf)
	return buf.String()
}

func (p *Processor) flushHead() error {
	if len(p.headHTML) == 0 {
		return nil
	}
	head := p.head()
	for _, markup := range p.headHTML {
		nodes, err := html.ParseFragment(strings.NewReader(markup), head)
		if err != nil {
			return fmt.Errorf("tagvisit: parse head html: %w", err)
		}
		for _, n := range nodes {
			head.AppendChild(n)
		}
	}
	p.headHTML = nil
	return nil
}

// head returns <head>, creating it before <body> when the document lacks one.
func (p *Processor) head() *html.Node {
	var root *html.Node
	for c := p.doc.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Html {
			root = c
			break
		}
	}
	if root == nil {
		root = &html.Node{Type: html.ElementNode, Data: "html", DataAtom: atom.Html}
		p.doc.AppendChild(root)
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Head {
			return c
		}
	}
	head := &html.Node{Type: html.ElementNode, Data: "head", DataAtom: atom.Head}
	root.InsertBefore(head, root.FirstChild)
	return head
}
