package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
)

// SaxSink receives the push-style events XMLStreamRenderer produces,
// mirroring the source database's SAX content-handler contract
//.
type SaxSink interface {
	StartDocument()
	EndDocument()
	StartPrefixMapping(prefix, uri string)
	EndPrefixMapping(prefix string)
	StartElement(prefix, name string, attrs []Attr)
	EndElement(prefix, name string)
	Characters(text string)
	CDATASection(text string)
	Comment(text string)
	ProcessingInstruction(target, data string)
}

// XMLStreamRenderer pulls a NodeStreamReader's events and pushes them
// through a SaxSink, resetting namespace tracking between top-level
// children.
type XMLStreamRenderer struct {
	broker Broker
}

// NewXMLStreamRenderer builds a renderer reading node streams from broker.
func NewXMLStreamRenderer(broker Broker) *XMLStreamRenderer {
	return &XMLStreamRenderer{broker: broker}
}

// Render streams doc's XML payload to w as UTF-8 text, framing it with
// start/end document and an XML declaration, so an archive entry's bytes
// always include the declaration.
func (r *XMLStreamRenderer) Render(ctx context.Context, doc Document, w io.Writer) error {
	reader, err := r.broker.XMLStreamReader(ctx, doc, true)
	if err != nil {
		return err
	}
	defer reader.Close()

	sink := &textSerializer{w: w}
	return RenderTo(ctx, reader, sink)
}

// RenderTo drives reader's events into sink, independent of how the
// payload is ultimately serialized; any SaxSink can stand in for
// textSerializer.
func RenderTo(ctx context.Context, reader NodeStreamReader, sink SaxSink) error {
	sink.StartDocument()

	var prefixStack [][]PrefixDecl
	depth := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, err := reader.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		switch ev.Type {
		case EventStartElement:
			for _, p := range ev.NewPrefixes {
				sink.StartPrefixMapping(p.Prefix, p.URI)
			}
			sink.StartElement(ev.Prefix, ev.Name, ev.Attrs)
			prefixStack = append(prefixStack, ev.NewPrefixes)
			depth++
		case EventEndElement:
			sink.EndElement(ev.Prefix, ev.Name)
			if depth > 0 {
				depth--
			}
			if len(prefixStack) > 0 {
				declared := prefixStack[len(prefixStack)-1]
				prefixStack = prefixStack[:len(prefixStack)-1]
				for _, p := range declared {
					sink.EndPrefixMapping(p.Prefix)
				}
			}
			if depth == 0 {
				prefixStack = prefixStack[:0]
			}
		case EventCharacters:
			sink.Characters(ev.Text)
		case EventCDATA:
			sink.CDATASection(ev.Text)
		case EventComment:
			sink.Comment(ev.Text)
			if depth == 0 {
				prefixStack = prefixStack[:0]
			}
		case EventProcessingInstruction:
			sink.ProcessingInstruction(ev.Name, ev.Text)
			if depth == 0 {
				prefixStack = prefixStack[:0]
			}
		}
	}

	sink.EndDocument()
	return nil
}

// textSerializer is the concrete SaxSink that renders events as actual
// XML text, the way DocumentExporter needs for an archive entry's body.
// pendingPrefixes holds the namespace declarations RenderTo reported via
// StartPrefixMapping since the last StartElement, so the next
// StartElement call can emit them as xmlns attributes on the tag they
// belong to.
type textSerializer struct {
	w               io.Writer
	pendingPrefixes []PrefixDecl
}

func (s *textSerializer) StartDocument() {
	io.WriteString(s.w, `<?xml version="1.0" encoding="UTF-8"?>`)
}

func (s *textSerializer) EndDocument() {}

func (s *textSerializer) StartPrefixMapping(prefix, uri string) {
	s.pendingPrefixes = append(s.pendingPrefixes, PrefixDecl{Prefix: prefix, URI: uri})
}
func (s *textSerializer) EndPrefixMapping(prefix string) {}

func qualifiedName(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + ":" + name
}

func xmlnsAttrName(prefix string) string {
	if prefix == "" {
		return "xmlns"
	}
	return "xmlns:" + prefix
}

func (s *textSerializer) StartElement(prefix, name string, attrs []Attr) {
	fmt.Fprintf(s.w, "<%s", qualifiedName(prefix, name))
	for _, p := range s.pendingPrefixes {
		fmt.Fprintf(s.w, " %s=\"%s\"", xmlnsAttrName(p.Prefix), escapeAttr(p.URI))
	}
	s.pendingPrefixes = s.pendingPrefixes[:0]
	for _, a := range attrs {
		fmt.Fprintf(s.w, " %s=\"%s\"", qualifiedName(a.Prefix, a.Name), escapeAttr(a.Value))
	}
	io.WriteString(s.w, ">")
}

func (s *textSerializer) EndElement(prefix, name string) {
	fmt.Fprintf(s.w, "</%s>", qualifiedName(prefix, name))
}

func (s *textSerializer) Characters(text string) {
	io.WriteString(s.w, escapeText(text))
}

func (s *textSerializer) CDATASection(text string) {
	fmt.Fprintf(s.w, "<![CDATA[%s]]>", text)
}

func (s *textSerializer) Comment(text string) {
	fmt.Fprintf(s.w, "<!--%s-->", text)
}

func (s *textSerializer) ProcessingInstruction(target, data string) {
	fmt.Fprintf(s.w, "<?%s %s?>", target, data)
}

func escapeText(s string) string {
	var buf bytes.Buffer
	for _, r := range s {
		switch r {
		case '&':
			buf.WriteString("&amp;")
		case '<':
			buf.WriteString("&lt;")
		case '>':
			buf.WriteString("&gt;")
		default:
			buf.WriteRune(r)
		}
	}
	return buf.String()
}

func escapeAttr(s string) string {
	var buf bytes.Buffer
	for _, r := range s {
		switch r {
		case '&':
			buf.WriteString("&amp;")
		case '<':
			buf.WriteString("&lt;")
		case '"':
			buf.WriteString("&quot;")
		default:
			buf.WriteRune(r)
		}
	}
	return buf.String()
}
