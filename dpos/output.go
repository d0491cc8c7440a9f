package dpos

// Output is the accumulator the voter's public entrypoints return (§9
// "Output += Output accumulator"). Merge is the only channel by which
// internal sub-operations communicate results up to the top-level call.
type Output struct {
	TxVotes       []TxVote
	RoundVotes    []RoundVote
	FetchTxs      [][32]byte
	FetchBlocks   [][32]byte
	BlockToSubmit *BlockToSubmit
	VErrors       []*VError
}

// Merge returns o with other's contents appended (other's BlockToSubmit, if
// set, replaces o's). It has a value receiver and does not update the
// caller's variable, so call sites write out = out.Merge(sub()).
func (o Output) Merge(other Output) Output {
	o.TxVotes = append(o.TxVotes, other.TxVotes...)
	o.RoundVotes = append(o.RoundVotes, other.RoundVotes...)
	o.FetchTxs = append(o.FetchTxs, other.FetchTxs...)
	o.FetchBlocks = append(o.FetchBlocks, other.FetchBlocks...)
	if other.BlockToSubmit != nil {
		o.BlockToSubmit = other.BlockToSubmit
	}
	o.VErrors = append(o.VErrors, other.VErrors...)
	return o
}

func (o Output) IsEmpty() bool {
	return len(o.TxVotes) == 0 && len(o.RoundVotes) == 0 && len(o.FetchTxs) == 0 &&
		len(o.FetchBlocks) == 0 && o.BlockToSubmit == nil && len(o.VErrors) == 0
}

func outFetchTx(id [32]byte) Output     { return Output{FetchTxs: [][32]byte{id}} }
func outFetchBlock(id [32]byte) Output  { return Output{FetchBlocks: [][32]byte{id}} }
func outErr(e *VError) Output           { return Output{VErrors: []*VError{e}} }
func outTxVote(v TxVote) Output         { return Output{TxVotes: []TxVote{v}} }
func outRoundVote(v RoundVote) Output   { return Output{RoundVotes: []RoundVote{v}} }
