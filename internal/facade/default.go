package facade

// Internal operation names the default table maps to. Handler
// registration uses the same constants, so a rename cannot silently
// detach a facade from its handler.
const (
	OpDecisionRecord    = "decision_record"
	OpIssueLog          = "issue_log"
	OpWishAdd           = "wish_add"
	OpFrictionLog       = "friction_log"
	OpCritLog           = "crit_log"
	OpLearningRecord    = "learning_record"
	OpSearchQuery       = "search_query"
	OpSearchRecent      = "search_recent"
	OpExperimentStart   = "experiment_start"
	OpExperimentCheck   = "experiment_check"
	OpExperimentFinish  = "experiment_conclude"
	OpHealth            = "decibel_health"
)

// Default returns the built-in facade table. Panics on a malformed
// definition, which is a programming error caught by tests.
func Default() *Table {
	t, err := NewTable([]Spec{
		{
			Name: "decibel_record",
			Full: `Record a project-memory entry: a decision, issue, wish, friction point, crit, or learning.

Use this whenever something worth remembering happens. Entries are appended
to the project's records and get a sequential ID (ISS-0001, WISH-0002, ...).
Pick the action that matches what you are recording; pass the entry fields
(title, body, tags) in args.`,
			Compact:       "Record a decision, issue, wish, friction point, crit, or learning.",
			MicroEligible: true,
			Actions: map[string]string{
				"record_decision": OpDecisionRecord,
				"log_issue":       OpIssueLog,
				"add_wish":        OpWishAdd,
				"log_friction":    OpFrictionLog,
				"log_crit":        OpCritLog,
				"record_learning": OpLearningRecord,
			},
			ActionHelp: map[string]string{
				"record_decision": "Record a decision that was made and why",
				"log_issue":       "Log a bug or defect",
				"add_wish":        "Capture a feature idea or wish",
				"log_friction":    "Note a recurring annoyance or workflow friction",
				"log_crit":        "Record a design or UI critique",
				"record_learning": "Record something learned (a TIL)",
			},
		},
		{
			Name: "decibel_search",
			Full: `Search and browse recorded project memory.

Use "search" with args.q for a substring search across all record kinds, or
"recent" for the newest entries. Both accept args.limit.`,
			Compact:       "Search or list recent project-memory records.",
			MicroEligible: true,
			Actions: map[string]string{
				"search": OpSearchQuery,
				"recent": OpSearchRecent,
			},
			ActionHelp: map[string]string{
				"search": "Substring search across records (args: q, limit)",
				"recent": "Most recently recorded entries (args: limit)",
			},
		},
		{
			Name: "decibel_experiment",
			Full: `Run a lightweight experiment log: start an experiment with a hypothesis,
check its current state, and conclude it with a result.

Experiments get IDs like EXP-0001 and live until concluded.`,
			Compact:       "Start, check, or conclude an experiment.",
			MicroEligible: false,
			Actions: map[string]string{
				"start_experiment":    OpExperimentStart,
				"check_experiment":    OpExperimentCheck,
				"conclude_experiment": OpExperimentFinish,
			},
			ActionHelp: map[string]string{
				"start_experiment":    "Begin an experiment (args: hypothesis, title)",
				"check_experiment":    "Read an experiment's current state (args: id)",
				"conclude_experiment": "Conclude with a result (args: id, result)",
			},
		},
		{
			Name:          "decibel_health",
			Full:          "Report daemon health: version, uptime, and record-store status.",
			Compact:       "Daemon health check.",
			MicroEligible: false,
			// No action enum: the tool name maps directly to the
			// decibel_health operation.
		},
	})
	if err != nil {
		panic(err)
	}
	return t
}
