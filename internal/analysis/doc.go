// Package analysis turns a free-text incident description into a root-cause
// analysis and a short list of similar historical incidents.
//
// # Overview
//
// One analysis makes one retrieval and two completion calls:
//
//  1. The Analyzer asks the model for a six-field root-cause breakdown
//  2. The retriever returns the nearest historical incidents
//  3. The Judge asks the model to score each candidate against the new incident
//  4. The Assembler joins judgments to candidates, applies the threshold and
//     truncates to the requested number of results
//
// Step 1 runs concurrently with steps 2 and 3.
//
// # Failure tiers
//
// Model failures degrade: the Analyzer returns the failure sentinel and the
// Judge returns no judgments. Retrieval and orchestration failures are
// returned to the caller.
//
// # Parsing
//
// Model output is free text. ParseRootCause and ParseJudgments are pure
// functions over that text so they can be tested against captured responses.
//
// # Joining
//
// Each case in the judge prompt carries the candidate's incident id. A
// judgment is attached to the candidate whose id it names, or to candidate
// N-1 when it names case N. When any judgment cannot be resolved the
// Assembler falls back to positional matching: judgment i scores candidate
// i and candidates without a judgment are skipped.
package analysis
