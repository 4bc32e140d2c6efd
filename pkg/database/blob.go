package database

// BlobRef records which content hashes are still referenced by live rows
// (texture, comment, description blobs), so hashes whose count has dropped to
// zero can be listed with BlobRefsUnreferenced (§4.9 "Blob store").
type BlobRef struct {
	ServerID uint64 `gorm:"primarykey"`
	Hash     string `gorm:"primarykey"`
	RefCount int64  `gorm:"not null;default:0"`
}

func (BlobRef) TableName() string { return "blob_refs" }

func (d *DbTx) BlobRefIncr(sid uint64, hash string) error {
	var ref BlobRef
	err := d.db.FirstOrCreate(&ref, BlobRef{ServerID: sid, Hash: hash}).Error
	if err != nil {
		return err
	}
	return d.db.Model(&ref).Update("ref_count", ref.RefCount+1).Error
}

func (d *DbTx) BlobRefDecr(sid uint64, hash string) error {
	var ref BlobRef
	err := d.db.First(&ref, "server_id = ? AND hash = ?", sid, hash).Error
	if err != nil {
		return err
	}
	ref.RefCount--
	if ref.RefCount <= 0 {
		return d.db.Delete(&ref).Error
	}
	return d.db.Save(&ref).Error
}

// BlobRefsUnreferenced returns hashes with a zero or negative ref count,
// eligible for filesystem garbage collection.
func (d *DbTx) BlobRefsUnreferenced(sid uint64) ([]string, error) {
	var refs []BlobRef
	err := d.db.Find(&refs, "server_id = ? AND ref_count <= 0", sid).Error
	if err != nil {
		return nil, err
	}
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.Hash
	}
	return out, nil
}
