package transform

import "github.com/xwander/tablewright/internal/core/fieldops"

// Strategy names how a value rename is carried out.
type Strategy string

const (
	// StrategyOptionRename relabels a select option with one schema call.
	StrategyOptionRename Strategy = "option_rename"
	// StrategyRecordRewrite lists matching records and batch-updates them.
	StrategyRecordRewrite Strategy = "record_rewrite"
)

// ChooseRenameStrategy picks the rename strategy from a field type alone.
//
// Field types are an open set: anything without a schema-level rename,
// including types this package has never seen, is rewritten record by record.
func ChooseRenameStrategy(fieldType string) Strategy {
	if fieldops.IsSelectType(fieldType) {
		return StrategyOptionRename
	}
	return StrategyRecordRewrite
}
