package protocol

// Records is a batch of encoded records, the unit the payload queue moves.
type Records [][]byte

func (recs Records) TotalLen() (total int64) {
	for _, r := range recs {
		total += int64(len(r))
	}
	return
}
