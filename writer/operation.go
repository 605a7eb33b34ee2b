package writer

// Operation is one queued write. The set of operations is closed: Put,
// Merge and Delete.
type Operation interface {
	Apply(tx Transaction)
	Target() string
	operation()
}

// PutOperation replaces the value at ID
type PutOperation struct {
	ID    string
	Value any
}

// MergeOperation merges Value into whatever is stored at ID
type MergeOperation struct {
	ID    string
	Value any
}

// DeleteOperation removes ID and everything below it
type DeleteOperation struct {
	ID string
}

func Put(id string, value any) Operation   { return PutOperation{ID: id, Value: value} }
func Merge(id string, value any) Operation { return MergeOperation{ID: id, Value: value} }
func Delete(id string) Operation           { return DeleteOperation{ID: id} }

func (o PutOperation) Apply(tx Transaction)    { tx.Put(o.ID, o.Value) }
func (o MergeOperation) Apply(tx Transaction)  { tx.Merge(o.ID, o.Value) }
func (o DeleteOperation) Apply(tx Transaction) { tx.Delete(o.ID) }

func (o PutOperation) Target() string    { return o.ID }
func (o MergeOperation) Target() string  { return o.ID }
func (o DeleteOperation) Target() string { return o.ID }

func (PutOperation) operation()    {}
func (MergeOperation) operation()  {}
func (DeleteOperation) operation() {}
