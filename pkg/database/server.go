package database

// Server is the single cluster instance row. The teacher's schema keyed
// every table off a ServerID to support many virtual servers per process;
// a cluster has exactly one logical server (the Hub), but the foreign key
// is kept so the rest of the schema (and the teacher's Ban model) needs no
// reshaping, and so a future multi-cluster Hub deployment has somewhere to
// grow into.
type Server struct {
	ID   uint64 `gorm:"primarykey"`
	Name string
}

func (Server) TableName() string {
	return "servers"
}

// EnsureServer returns the ID of the lone Server row, creating it on first
// boot.
func (tx *DbTx) EnsureServer(name string) (uint64, error) {
	var s Server
	err := tx.db.FirstOrCreate(&s, Server{Name: name}).Error
	if err != nil {
		return 0, err
	}
	return s.ID, nil
}
