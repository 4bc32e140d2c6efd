package database

// Channel is the durable row backing pkg/channel.Channel. Links are stored
// as a join table since sqlite has no array column type.
type Channel struct {
	ID          int64  `gorm:"primarykey"`
	ServerID    uint64 `gorm:"not null;index"`
	Server      *Server `gorm:"constraint:OnDelete:CASCADE;"`
	ParentID    int64
	Name        string `gorm:"not null"`
	Position    int32
	Description string
	Temporary   bool
	InheritACL  bool `gorm:"default:true"`
	MaxUsers    uint32
}

func (Channel) TableName() string { return "channels" }

// ChannelLink is one symmetric link edge; both directions are stored so a
// lookup from either side is a plain indexed query.
type ChannelLink struct {
	ServerID  uint64 `gorm:"primarykey"`
	ChannelID int64  `gorm:"primarykey"`
	LinkedID  int64  `gorm:"primarykey"`
}

func (ChannelLink) TableName() string { return "channel_links" }

func (d *DbTx) ChannelRead(sid uint64) ([]Channel, error) {
	var channels []Channel
	err := d.db.Find(&channels, "server_id = ?", sid).Error
	return channels, err
}

func (d *DbTx) ChannelLinksRead(sid uint64) ([]ChannelLink, error) {
	var links []ChannelLink
	err := d.db.Find(&links, "server_id = ?", sid).Error
	return links, err
}

func (d *DbTx) ChannelCreate(c *Channel) error {
	return d.db.Create(c).Error
}

func (d *DbTx) ChannelUpdate(c *Channel) error {
	return d.db.Save(c).Error
}

func (d *DbTx) ChannelDelete(sid uint64, id int64) error {
	if err := d.db.Delete(&ChannelLink{}, "server_id = ? AND (channel_id = ? OR linked_id = ?)", sid, id, id).Error; err != nil {
		return err
	}
	return d.db.Delete(&Channel{}, "server_id = ? AND id = ?", sid, id).Error
}

func (d *DbTx) ChannelLinkAdd(sid uint64, a, b int64) error {
	links := []ChannelLink{
		{ServerID: sid, ChannelID: a, LinkedID: b},
		{ServerID: sid, ChannelID: b, LinkedID: a},
	}
	return d.db.Create(&links).Error
}

func (d *DbTx) ChannelLinkRemove(sid uint64, a, b int64) error {
	return d.db.Delete(&ChannelLink{}, "server_id = ? AND ((channel_id = ? AND linked_id = ?) OR (channel_id = ? AND linked_id = ?))",
		sid, a, b, b, a).Error
}
