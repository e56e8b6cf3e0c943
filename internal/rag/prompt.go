// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

package rag

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// SystemPrompt frames the model as a spoiler-safe reading companion.
const SystemPrompt = "You are MeReader's AI assistant, functioning as an insightful reading companion for the book. " +
	"Your knowledge is limited to the provided text excerpts for each query and must reflect only what a reader would know at this point. " +
	"Answer user queries by performing a 'mini literary analysis' based exclusively on the provided text excerpts. " +
	"Focus on character motivations, feelings, actions, plot developments, mood, and tone *as presented within those excerpts*.\n\n" +
	"Constraints:\n" +
	"1. Base your entire answer SOLELY on facts, dialogue, descriptions, and character thoughts explicitly " +
	"stated or directly described within the provided text excerpts. DO NOT use outside knowledge of the book or world.\n" +
	"2. NEVER reveal or allude to any plot points, character developments, or events occurring beyond " +
	"the user's reading progress marker.\n" +
	"3. If the answer cannot be found or fully substantiated within the provided excerpts, state clearly and directly: " +
	"'Based on the text up to this point, the information needed to answer isn't available.' or a similar concise phrase.\n" +
	"4. DO NOT mention 'excerpts', 'passages', 'context', 'provided text', 'your system', or any " +
	"internal mechanisms in your response.\n" +
	"5. When citing the source of information if necessary for clarity, refer only to the chapter " +
	"number(s) associated with the provided excerpts. Do not refer to passage numbers.\n" +
	"6. Avoid introductory fluff like 'In the provided context...' or 'Based on the passages...'. " +
	"State findings directly. Avoid broad opening statements summarizing multiple chapters " +
	"(e.g., 'Chapters X to Y show...').\n" +
	"7. Ensure any mentioned relationships or facts are explicitly present or directly or indirectly " +
	"supportable by the provided excerpt(s) from the relevant chapters.\n\n" +
	"Analytical Tone:\n" +
	"* First, understand the nuances of the user's question.\n" +
	"* Identify relevant textual details. When analyzing character psyche (intentions, feelings, " +
	"motivations), clearly link your analysis back to specific actions, words, or thoughts *found within the excerpts*.\n" +
	"* Combine the extracted information into a coherent, thoughtful response. Discuss mood, tone, " +
	"character actions, stated/implied intent, and plot happenings *as revealed by the text you have*.\n" +
	"* Remain factual. Be cautious when interpreting ambiguity within the excerpts, clearly " +
	"stating what is known versus what might be implied but isn't confirmed.\n" +
	"* Be Confident (When Applicable): When the excerpts provide clear, unambiguous facts, state them confidently.\n\n" +
	"Persona: You are a disciplined, book-bound reading assistant, " +
	"providing literary insights limited strictly by the text excerpts corresponding to the user's progress."

// NoContextAnswer is returned when nothing before the reader's position matches.
const NoContextAnswer = "I don't have enough information from the book to answer that question based on what you've read so far."

func expansionPrompt(query, title string) string {
	return fmt.Sprintf("You are helping to expand a search query about the book '%s'. "+
		"Generate 2 alternative versions of the original query to improve semantic search results. "+
		"Focus on extracting key entities, actions, and concepts from the original query. "+
		"For character-based questions, include full character names and relevant attributes or actions. "+
		"Keep your responses concise and directly related to the original query.\n\n"+
		"Original query: %s\n\n"+
		"Generate 2 alternative queries (numbered list only):", title, query)
}

// parseExpansions keeps the "1." and "2." lines longer than five characters.
func parseExpansions(resp string) []string {
	var out []string
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "1.") && !strings.HasPrefix(line, "2.") {
			continue
		}
		q := strings.TrimSpace(line[2:])
		if len(q) > 5 {
			out = append(out, q)
		}
	}
	return out
}

func rerankPrompt(query, title string, passages []Passage) string {
	parts := []string{
		fmt.Sprintf("You are helping rank search results for the query: '%s' about the book '%s'.\n", query, title),
		"Rate each passage on a scale from 1-10 based on how directly relevant it is to answering the query.\n",
		"10 = directly answers the query; 1 = unrelated to the query.\n\n",
		"Passages to rank:",
	}
	for i, p := range passages {
		parts = append(parts, fmt.Sprintf("\n[%d] %s...", i+1, prefix(p.Text, 200)))
	}
	parts = append(parts, "\nProvide your ratings in this exact format, one per line:", "FORMAT: [index]: [score]")
	return strings.Join(parts, "\n")
}

var rankRe = regexp.MustCompile(`\[(\d+)\]:\s*(\d+)`)

// parseRankings maps zero-based passage index to a score clamped to [1, 10].
func parseRankings(resp string, n int) map[int]int {
	out := make(map[int]int)
	for _, m := range rankRe.FindAllStringSubmatch(resp, -1) {
		idx, err1 := strconv.Atoi(m[1])
		score, err2 := strconv.Atoi(m[2])
		if err1 != nil || err2 != nil {
			continue
		}
		idx--
		if idx < 0 || idx >= n {
			continue
		}
		out[idx] = max(1, min(10, score))
	}
	return out
}

// buildContext lists summaries in their own section ahead of the passages.
func buildContext(passages []Passage) string {
	var summaries, contents []string
	for i, p := range passages {
		title := p.ChapterTitle
		if title == "" {
			title = "Unknown Chapter"
		}
		if p.Method == MethodSummary {
			summaries = append(summaries, fmt.Sprintf("SUMMARY (Chapter: %s, Loc: %d):\n%s\n", title, p.Location, p.Text))
			continue
		}
		marker := ""
		switch p.Method {
		case MethodBM25:
			marker = "[KW] "
		case MethodExpanded:
			marker = "[EX] "
		}
		contents = append(contents, fmt.Sprintf("PASSAGE %d %s(Chapter: %s, Loc: %d):\n%s\n", i+1, marker, title, p.Location, p.Text))
	}
	var parts []string
	if len(summaries) > 0 {
		parts = append(parts, "--- SECTION SUMMARIES ---")
		parts = append(parts, summaries...)
		parts = append(parts, "--- DETAILED PASSAGES ---")
	}
	parts = append(parts, contents...)
	return strings.Join(parts, "\n")
}

func buildPrompt(query, context string, pct float64, history []Message) string {
	var sb strings.Builder
	sb.WriteString("BOOK CONTEXT INFORMATION:\n")
	sb.WriteString(context)
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "The user has read approximately %.1f%% of the book.\n", pct)
	if len(history) > 0 {
		sb.WriteString("CONVERSATION SO FAR:\n")
		for _, m := range history {
			fmt.Fprintf(&sb, "%s: %s\n", strings.ToUpper(m.Role), m.Content)
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "USER QUESTION: %s\n\nANSWER:", query)
	return sb.String()
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
