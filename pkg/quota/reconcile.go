package quota

// Reconcile migrates a single record to the currently configured limit and
// reports whether it changed. A decreased limit also clips Used down to the
// new ceiling; an increased limit leaves Used untouched.
//
// There is no bulk migration: every record is reconciled the next time it is
// evaluated or committed.
func Reconcile(record *Record, configured int64) bool {
	if record == nil || record.Limit == configured {
		return false
	}

	if configured < record.Limit && record.Used > configured {
		record.Used = configured
	}
	record.Limit = configured
	return true
}
