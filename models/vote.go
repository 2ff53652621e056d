package models

import "time"

type VoteValue string

const (
	VoteYes VoteValue = "yes"
	VoteNo  VoteValue = "no"
)

type Vote struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	TaskInstanceID uint      `gorm:"index:uq_vote,unique;not null" json:"task_instance_id"`
	VoterID        uint      `gorm:"index:uq_vote,unique;not null" json:"voter_id"`
	Value          VoteValue `gorm:"type:enum('yes','no');not null" json:"value"`
	VotedAt        time.Time `gorm:"autoCreateTime" json:"voted_at"`
}

func (Vote) TableName() string {
	return "votes"
}
