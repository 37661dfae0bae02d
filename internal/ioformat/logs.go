// Copyright ©2024 The vdjrec Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ioformat

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/kortschak/vdjrec/internal/engine"
	"github.com/kortschak/vdjrec/internal/nt"
	"github.com/kortschak/vdjrec/internal/scenario"
)

// WriteInferenceLogHeader writes the inference log's header row.
func WriteInferenceLogHeader(w io.Writer) error {
	_, err := fmt.Fprintln(w, "iteration_n;seq_processed;seq_index;nt_sequence;n_V_aligns;"+
		"n_J_aligns;seq_likelihood;seq_mean_n_errors;seq_n_scenarios;seq_best_scenario;time")
	return err
}

// WriteInferenceLogLine appends one inference-log row for l, tagged with
// the 1-based iteration number iter. seq_best_scenario is
// rendered as a comma-separated list of "event:token" entries, one per
// realisation in l.BestScenario's Queue order: token is the realisation
// Name for GeneChoice/Insertion/Deletion events and the decoded nucleotide
// content for a DinucleotideMarkov event. Event names never contain ',' or
// ';', so the list is unambiguous to split back apart.
func WriteInferenceLogLine(w io.Writer, iter int, l engine.SequenceLog) error {
	_, err := fmt.Fprintf(w, "%d;%d;%d;%s;%d;%d;%s;%s;%d;%s;%s\n",
		iter,
		l.SeqProcessed,
		l.SeqIndex,
		string(nt.Decode(l.Sequence)),
		l.NumVAligns,
		l.NumJAligns,
		strconv.FormatFloat(l.Likelihood, 'g', -1, 64),
		strconv.FormatFloat(l.MeanErrors, 'g', -1, 64),
		l.NumScenarios,
		formatBestScenario(l.BestScenario),
		l.Elapsed,
	)
	return err
}

func formatBestScenario(best []scenario.BestRealisation) string {
	toks := make([]string, len(best))
	for i, r := range best {
		tok := r.Content
		if tok == "" {
			tok = r.Name
		}
		toks[i] = r.Event + ":" + tok
	}
	return strings.Join(toks, ",")
}

func parseBestScenario(s string) []scenario.BestRealisation {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]scenario.BestRealisation, len(parts))
	for i, p := range parts {
		ev, tok, _ := strings.Cut(p, ":")
		out[i] = scenario.BestRealisation{Event: ev, Name: tok}
	}
	return out
}

// ReadInferenceLog parses an inference log previously written by
// WriteInferenceLogHeader/WriteInferenceLogLine, returning the iteration
// number recorded on each row alongside its engine.SequenceLog.
// seq_best_scenario round-trips only as Event/Name pairs: the log line
// cannot distinguish a GeneChoice realisation name from a DinucMarkov
// sequence's decoded content, so both are parsed into BestRealisation.Name.
func ReadInferenceLog(r io.Reader) ([]int, []engine.SequenceLog, error) {
	sc := bufio.NewScanner(r)
	if !sc.Scan() {
		return nil, nil, fmt.Errorf("%w: inference log: empty input", ErrInputFormat)
	}
	var iters []int
	var logs []engine.SequenceLog
	lineNo := 1
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if line == "" {
			continue
		}
		fields := strings.Split(line, ";")
		if len(fields) != 11 {
			return nil, nil, fmt.Errorf("%w: inference log line %d: expected 11 fields, got %d", ErrInputFormat, lineNo, len(fields))
		}
		iter, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, nil, fmt.Errorf("%w: inference log line %d: bad iteration_n: %v", ErrInputFormat, lineNo, err)
		}
		seqProcessed, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, nil, fmt.Errorf("%w: inference log line %d: bad seq_processed: %v", ErrInputFormat, lineNo, err)
		}
		seqIndex, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, nil, fmt.Errorf("%w: inference log line %d: bad seq_index: %v", ErrInputFormat, lineNo, err)
		}
		seq, err := nt.Encode([]byte(fields[3]))
		if err != nil {
			return nil, nil, fmt.Errorf("%w: inference log line %d: %v", ErrInputFormat, lineNo, err)
		}
		nV, err := strconv.Atoi(fields[4])
		if err != nil {
			return nil, nil, fmt.Errorf("%w: inference log line %d: bad n_V_aligns: %v", ErrInputFormat, lineNo, err)
		}
		nJ, err := strconv.Atoi(fields[5])
		if err != nil {
			return nil, nil, fmt.Errorf("%w: inference log line %d: bad n_J_aligns: %v", ErrInputFormat, lineNo, err)
		}
		likelihood, err := strconv.ParseFloat(fields[6], 64)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: inference log line %d: bad seq_likelihood: %v", ErrInputFormat, lineNo, err)
		}
		meanErrors, err := strconv.ParseFloat(fields[7], 64)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: inference log line %d: bad seq_mean_n_errors: %v", ErrInputFormat, lineNo, err)
		}
		nScenarios, err := strconv.Atoi(fields[8])
		if err != nil {
			return nil, nil, fmt.Errorf("%w: inference log line %d: bad seq_n_scenarios: %v", ErrInputFormat, lineNo, err)
		}
		elapsed, err := time.ParseDuration(fields[10])
		if err != nil {
			return nil, nil, fmt.Errorf("%w: inference log line %d: bad time: %v", ErrInputFormat, lineNo, err)
		}
		iters = append(iters, iter)
		logs = append(logs, engine.SequenceLog{
			SeqProcessed: seqProcessed,
			SeqIndex:     seqIndex,
			Sequence:     seq,
			NumVAligns:   nV,
			NumJAligns:   nJ,
			Likelihood:   likelihood,
			MeanErrors:   meanErrors,
			NumScenarios: nScenarios,
			BestScenario: parseBestScenario(fields[9]),
			Elapsed:      elapsed,
		})
	}
	return iters, logs, sc.Err()
}

// WriteLikelihoodLogHeader writes the likelihood log's header row.
func WriteLikelihoodLogHeader(w io.Writer) error {
	_, err := fmt.Fprintln(w, "iteration;mean_log_Likelihood;n_seq")
	return err
}

// WriteLikelihoodLogLine appends one likelihood-log row.
func WriteLikelihoodLogLine(w io.Writer, iter int, res engine.IterationResult) error {
	_, err := fmt.Fprintf(w, "%d;%s;%d\n",
		iter,
		strconv.FormatFloat(res.MeanLogLikelihood, 'g', -1, 64),
		res.NumSequences,
	)
	return err
}

// ReadLikelihoodLog parses a likelihood log previously written by
// WriteLikelihoodLogHeader/WriteLikelihoodLogLine.
func ReadLikelihoodLog(r io.Reader) ([]int, []engine.IterationResult, error) {
	sc := bufio.NewScanner(r)
	if !sc.Scan() {
		return nil, nil, fmt.Errorf("%w: likelihood log: empty input", ErrInputFormat)
	}
	var iters []int
	var results []engine.IterationResult
	lineNo := 1
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if line == "" {
			continue
		}
		fields := strings.Split(line, ";")
		if len(fields) != 3 {
			return nil, nil, fmt.Errorf("%w: likelihood log line %d: expected 3 fields, got %d", ErrInputFormat, lineNo, len(fields))
		}
		iter, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, nil, fmt.Errorf("%w: likelihood log line %d: bad iteration: %v", ErrInputFormat, lineNo, err)
		}
		meanLL, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: likelihood log line %d: bad mean_log_Likelihood: %v", ErrInputFormat, lineNo, err)
		}
		nSeq, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, nil, fmt.Errorf("%w: likelihood log line %d: bad n_seq: %v", ErrInputFormat, lineNo, err)
		}
		iters = append(iters, iter)
		results = append(results, engine.IterationResult{MeanLogLikelihood: meanLL, NumSequences: nSeq})
	}
	return iters, results, sc.Err()
}
