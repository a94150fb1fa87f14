package domain

import "time"

// Owner 记录所属的住户或员工（来自主数据）
type Owner struct {
	ID        string
	Name      string
	Floor     string
	Room      string // 房间号，排序时优先按数值比较
	SortOrder int
	BathDays  []time.Weekday
	BathSlot  string
	Active    bool
}

// BathesOn 指定星期是否安排洗浴
func (o Owner) BathesOn(day time.Weekday) bool {
	for _, d := range o.BathDays {
		if d == day {
			return true
		}
	}
	return false
}
