package dataset

// Record is one row of a verbose source: the statistics of a single training run of a cell,
// before the cell is validated, pruned or hashed.
type Record struct {
	// DeclaredHash is the hex hash the source claims for the cell.
	DeclaredHash string

	// Ops are the operation names, one per vertex.
	Ops []string

	// Adjacency is either the full row-major V*V bit string or its upper triangle.
	Adjacency string

	Epochs              uint8
	TrainableParameters uint32
	Evaluation          Evaluation
}

// RecordProducer yields the records of a verbose source, in order.
// Next returns io.EOF after the last record.
type RecordProducer interface {
	Next() (Record, error)
}
