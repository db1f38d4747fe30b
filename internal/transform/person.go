package transform

import "cdcrelay/internal/record"

// ToSink maps a source row onto the sink schema. The name is the first and
// last name joined by one space, with no trimming or case changes. The row
// version is dropped.
func ToSink(src record.SourcePerson) (record.SinkKey, record.SinkPerson) {
	return record.SinkKey{PersonID: src.PersonID}, record.SinkPerson{
		PersonID:      src.PersonID,
		Name:          src.FirstName + " " + src.LastName,
		FavoriteColor: src.FavoriteColor,
		Age:           src.Age,
	}
}

// PersonToSink is the stage form of ToSink.
func PersonToSink() Stage {
	return NewStage(NamePersonToSink, func(src record.SourcePerson) (record.SinkRecord, error) {
		k, v := ToSink(src)
		return record.SinkRecord{Key: k, Value: v}, nil
	})
}

// Identity forwards raw bytes unchanged.
func Identity() Stage {
	return NewStage(NameIdentity, func(r record.Raw) (record.Raw, error) {
		return r, nil
	})
}
