package modelgraph

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/kortschak/vdjrec/internal/nt"
)

// geneClassToken and seqSideToken mirror the text tokens
// _examples/original_source/igor_src/Model_Parms.cpp's str2GeneClass and
// str2SeqSide accept, so that model-parameters files this package writes
// round-trip through the original tool's vocabulary.
var geneClassToken = map[GeneClass]string{
	Undefined: "Undefined_gene", V: "V_gene", D: "D_gene", J: "J_gene",
	VD: "VD_genes", DJ: "DJ_genes", VJ: "VJ_genes",
}

var tokenGeneClass = reverseStrMap(geneClassToken)

var seqSideToken = map[SequenceSide]string{
	UndefinedSide: "Undefined_side", FivePrime: "Five_prime", ThreePrime: "Three_prime",
}

var tokenSeqSide = reverseSeqSideMap(seqSideToken)

func reverseStrMap(m map[GeneClass]string) map[string]GeneClass {
	out := make(map[string]GeneClass, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}

func reverseSeqSideMap(m map[SequenceSide]string) map[string]SequenceSide {
	out := make(map[string]SequenceSide, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}

var eventTypeToken = map[EventType]string{
	GeneChoice: "GeneChoice", Deletion: "Deletion", Insertion: "Insertion",
	DinucleotideMarkov: "DinucMarkov",
}

// WriteText writes the event list and edge set in the model-parameters text
// format (tokens "@Event_list"/"@Edges"). It does not write an "@ErrorRate"
// section; callers compose that from the errormodel package (see
// ioformat.WriteModelParms).
//
// The original tool's reader dispatches construction by testing the header's
// first field for exact equality with "Insertion"/"Deletion"/"GeneChoice"/
// "DinucMarkov", which only works if a model has at most one event of each
// type, not true of any real V(D)J model, which has three GeneChoice
// events (V, D, J) alone. Rather than reproduce that, the event's own unique
// Name is written first and its type is carried in an explicit second field;
// this format is not byte-compatible with the original tool's files, only
// structural round-trip through this package is required.
func (m *Model) WriteText(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "@Event_list")
	for _, e := range m.Events() {
		tok, ok := eventTypeToken[e.Type]
		if !ok {
			return fmt.Errorf("modelgraph: unknown event type %v", e.Type)
		}
		fmt.Fprintf(bw, "#%s;%s;%s;%s;%d;%s\n", e.Name, tok, geneClassToken[e.Class], seqSideToken[e.Side], e.Priority, e.Nickname)
		for _, r := range e.Realisations {
			switch e.Type {
			case GeneChoice:
				fmt.Fprintf(bw, "%%%s;%s;%d\n", r.Name, string(nt.Decode(r.Seq)), r.Index)
			default:
				fmt.Fprintf(bw, "%%%d;%d\n", r.Value, r.Index)
			}
		}
	}
	fmt.Fprintln(bw, "@Edges")
	for _, e := range m.Events() {
		children, err := m.Children(e.Name)
		if err != nil {
			return err
		}
		for _, c := range children {
			fmt.Fprintf(bw, "%%%s;%s\n", e.Name, c.Name)
		}
	}
	return bw.Flush()
}

// ReadText parses the "@Event_list" and "@Edges" sections produced by
// WriteText from r (it does not read the original tool's own event
// headers, which lack the name field), returning the reconstructed
// Model and any trailing lines starting at "@ErrorRate" (unparsed, for the
// caller to hand to the errormodel package).
func ReadText(r io.Reader) (*Model, []string, error) {
	sc := bufio.NewScanner(r)
	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("modelgraph: reading model text: %w", err)
	}
	if len(lines) == 0 || lines[0] != "@Event_list" {
		return nil, nil, fmt.Errorf("modelgraph: unknown format for model_parms file")
	}

	m := NewModel()
	i := 1
	for i < len(lines) && strings.HasPrefix(lines[i], "#") {
		fields := strings.Split(strings.TrimPrefix(lines[i], "#"), ";")
		if len(fields) < 5 {
			return nil, nil, fmt.Errorf("modelgraph: malformed event header %q", lines[i])
		}
		name, typTok, classTok, sideTok := fields[0], fields[1], fields[2], fields[3]
		priority, err := strconv.Atoi(fields[4])
		if err != nil {
			return nil, nil, fmt.Errorf("modelgraph: bad priority in %q: %w", lines[i], err)
		}
		var nickname string
		if len(fields) > 5 {
			nickname = strings.Join(fields[5:], ";")
		}
		class, ok := tokenGeneClass[classTok]
		if !ok {
			return nil, nil, fmt.Errorf("modelgraph: unknown gene class %q", classTok)
		}
		side, ok := tokenSeqSide[sideTok]
		if !ok {
			return nil, nil, fmt.Errorf("modelgraph: unknown sequence side %q", sideTok)
		}
		var typ EventType
		switch typTok {
		case "GeneChoice":
			typ = GeneChoice
		case "Deletion":
			typ = Deletion
		case "Insertion":
			typ = Insertion
		case "DinucMarkov":
			typ = DinucleotideMarkov
		default:
			return nil, nil, fmt.Errorf("modelgraph: %s event is not implemented", typTok)
		}
		i++

		var realisations []Realisation
		for i < len(lines) && strings.HasPrefix(lines[i], "%") {
			fields := strings.Split(strings.TrimPrefix(lines[i], "%"), ";")
			switch typ {
			case GeneChoice:
				if len(fields) != 3 {
					return nil, nil, fmt.Errorf("modelgraph: malformed GeneChoice realisation %q", lines[i])
				}
				seq, err := nt.Encode([]byte(fields[1]))
				if err != nil {
					return nil, nil, fmt.Errorf("modelgraph: %w", err)
				}
				idx, err := strconv.Atoi(fields[2])
				if err != nil {
					return nil, nil, fmt.Errorf("modelgraph: bad realisation index in %q: %w", lines[i], err)
				}
				realisations = append(realisations, Realisation{Name: fields[0], Seq: seq, Index: idx})
			case Insertion, Deletion:
				if len(fields) != 2 {
					return nil, nil, fmt.Errorf("modelgraph: malformed realisation %q", lines[i])
				}
				val, err := strconv.Atoi(fields[0])
				if err != nil {
					return nil, nil, fmt.Errorf("modelgraph: bad realisation value in %q: %w", lines[i], err)
				}
				idx, err := strconv.Atoi(fields[1])
				if err != nil {
					return nil, nil, fmt.Errorf("modelgraph: bad realisation index in %q: %w", lines[i], err)
				}
				realisations = append(realisations, Realisation{Name: strconv.Itoa(val), Value: val, Index: idx})
			case DinucleotideMarkov:
				// DinucMarkov's transition-matrix realisation lines are
				// consumed but not modelled as Event realisations; the
				// transition probabilities live in the marginal tensor.
			}
			i++
		}

		if _, err := m.AddEvent(Event{
			Name: name, Nickname: nickname, Type: typ, Class: class, Side: side,
			Priority: priority, Realisations: realisations,
		}); err != nil {
			return nil, nil, err
		}
	}

	if i >= len(lines) || lines[i] != "@Edges" {
		return nil, nil, fmt.Errorf("modelgraph: unknown format for model file: missing @Edges")
	}
	i++
	for i < len(lines) && strings.HasPrefix(lines[i], "%") {
		fields := strings.SplitN(strings.TrimPrefix(lines[i], "%"), ";", 2)
		if len(fields) != 2 {
			return nil, nil, fmt.Errorf("modelgraph: malformed edge %q", lines[i])
		}
		if err := m.AddEdge(fields[0], fields[1]); err != nil {
			return nil, nil, err
		}
		i++
	}

	return m, lines[i:], nil
}
