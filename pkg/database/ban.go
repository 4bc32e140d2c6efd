package database

import "time"

// Ban is one row of a Hub's ban list, scoped to the server it was issued on
// (ServerID) so a single database can back more than one Hub's worth of
// servers without their ban lists colliding.
type Ban struct {
	ID       int64   `gorm:"primarykey"`
	ServerID uint64  `gorm:"not null;index"`
	Server   *Server `gorm:"constraint:OnDelete:CASCADE;"`

	Base     []byte
	Mask     int
	Name     string
	Hash     []byte
	Reason   string
	Start    time.Time
	Duration int
}

func (s Ban) TableName() string {
	return "bans"
}

func (d *DbTx) BanRead(sid uint64, limit, offset int) ([]Ban, int64, error) {
	var bans []Ban
	var count int64
	err := d.db.Limit(limit).Offset(offset).Find(&bans, "server_id = ?", sid).Count(&count).Error
	if err != nil {
		return nil, 0, err
	}
	return bans, count, nil
}

// BanWrite replaces sid's ban list with bans. The delete is scoped to sid so
// one server's ban replacement never touches another server's rows sharing
// this database.
func (d *DbTx) BanWrite(sid uint64, bans []Ban) error {
	if err := d.db.Delete(&Ban{}, "server_id = ?", sid).Error; err != nil {
		return err
	}
	if len(bans) == 0 {
		return nil
	}
	return d.db.Create(bans).Error
}
