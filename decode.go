package cdns

import (
	"fmt"
	"time"
)

// Record Decoder
//
// The decoder raises wire records back into application records, resolving
// every table index against the tables of the block being read.  Any index
// at or past the end of its table fails the block with an [IndexError];
// indices are never clamped.  Absent wire fields decode to nil, never to a
// zero value.

// decoder resolves the wire records of one block.
type decoder struct {
	tables   *blockTablesWire
	storage  *StorageParameters
	earliest *time.Time
}

// newDecoder returns a decoder over the given block tables, which may be nil
// when no record in the block references any table.
func newDecoder(tables *blockTablesWire, storage *StorageParameters, earliest *time.Time) (d *decoder) {
	if tables == nil {
		tables = &blockTablesWire{}
	}

	return &decoder{
		tables:   tables,
		storage:  storage,
		earliest: earliest,
	}
}

// absTime converts a wire tick offset into an absolute time using the
// block's earliest-time anchor.
func (d *decoder) absTime(offset *uint64) (t *time.Time, err error) {
	if offset == nil {
		return nil, nil
	}

	if d.earliest == nil {
		return nil, fmt.Errorf("%w: time offset present without earliest-time", ErrMalformed)
	}

	// #nosec G115 -- An offset above MaxInt64 ticks is thousands of years.
	abs := d.earliest.Add(ticksToDuration(int64(*offset), d.storage.TicksPerSecond))

	return &abs, nil
}

// queryResponse decodes w.
func (d *decoder) queryResponse(w *qrWire) (qr *QueryResponse, err error) {
	qr = &QueryResponse{
		ClientPort:     w.ClientPort,
		TransactionID:  w.TransactionID,
		ClientHopLimit: w.ClientHopLimit,
		QuerySize:      w.QuerySize,
		ResponseSize:   w.ResponseSize,
	}

	qr.Time, err = d.absTime(w.TimeOffset)
	if err != nil {
		return nil, err
	}

	if i := w.ClientAddressIndex; i != nil {
		qr.ClientAddr, err = lookup(d.tables.IPAddress, *i, tableIPAddress)
		if err != nil {
			return nil, err
		}
	}

	if i := w.SignatureIndex; i != nil {
		sw, lookupErr := lookup(d.tables.Signature, *i, tableSignature)
		if lookupErr != nil {
			return nil, lookupErr
		}

		qr.Signature, err = d.signature(sw)
		if err != nil {
			return nil, err
		}
	}

	if t := w.ResponseDelay; t != nil {
		qr.ResponseDelay = ptrTo(ticksToDuration(*t, d.storage.TicksPerSecond))
	}

	if i := w.QueryNameIndex; i != nil {
		qr.QueryName, err = lookup(d.tables.NameRData, *i, tableNameRData)
		if err != nil {
			return nil, err
		}
	}

	if rp := w.ResponseProcessing; rp != nil {
		qr.ResponseProcessing = &ResponseProcessing{Flags: rp.Flags}
		if i := rp.BailiwickIndex; i != nil {
			qr.ResponseProcessing.Bailiwick, err = lookup(d.tables.NameRData, *i, tableNameRData)
			if err != nil {
				return nil, err
			}
		}
	}

	if w.QueryExtended != nil {
		qr.QueryExtended, err = d.sections(w.QueryExtended)
		if err != nil {
			return nil, err
		}
	}

	if w.ResponseExtended != nil {
		qr.ResponseExtended, err = d.sections(w.ResponseExtended)
		if err != nil {
			return nil, err
		}
	}

	return qr, nil
}

// signature decodes w.
func (d *decoder) signature(w *sigWire) (sig *Signature, err error) {
	sig = &Signature{
		ServerPort:       w.ServerPort,
		TransportFlags:   w.TransportFlags,
		QRType:           w.QRType,
		Flags:            w.Flags,
		QueryOpcode:      w.QueryOpcode,
		DNSFlags:         w.DNSFlags,
		QueryRcode:       w.QueryRcode,
		QueryQDCount:     w.QueryQDCount,
		QueryANCount:     w.QueryANCount,
		QueryNSCount:     w.QueryNSCount,
		QueryARCount:     w.QueryARCount,
		QueryEDNSVersion: w.QueryEDNSVersion,
		QueryUDPSize:     w.QueryUDPSize,
		ResponseRcode:    w.ResponseRcode,
	}

	if i := w.ServerAddressIndex; i != nil {
		sig.ServerAddr, err = lookup(d.tables.IPAddress, *i, tableIPAddress)
		if err != nil {
			return nil, err
		}
	}

	if i := w.QueryClassTypeIndex; i != nil {
		var ct ClassType
		ct, err = lookup(d.tables.ClassType, *i, tableClassType)
		if err != nil {
			return nil, err
		}

		sig.QueryClassType = &ct
	}

	if i := w.QueryOptRDataIndex; i != nil {
		sig.QueryOptRData, err = lookup(d.tables.NameRData, *i, tableNameRData)
		if err != nil {
			return nil, err
		}
	}

	return sig, nil
}

// sections decodes the extended section data of one half of a pair.  List
// indices resolve in two hops: the list table first, then the entry table
// for each element.
func (d *decoder) sections(w *extendedWire) (sd *SectionData, err error) {
	sd = &SectionData{}

	if i := w.QuestionIndex; i != nil {
		list, lookupErr := lookup(d.tables.QuestionList, *i, tableQuestionList)
		if lookupErr != nil {
			return nil, lookupErr
		}

		sd.Questions = make([]Question, 0, len(list))
		for _, qi := range list {
			qw, lookupErr := lookup(d.tables.Question, qi, tableQuestion)
			if lookupErr != nil {
				return nil, lookupErr
			}

			var q Question
			q, err = d.question(qw)
			if err != nil {
				return nil, err
			}

			sd.Questions = append(sd.Questions, q)
		}
	}

	sd.Answers, err = d.rrSection(w.AnswerIndex)
	if err != nil {
		return nil, err
	}

	sd.Authorities, err = d.rrSection(w.AuthorityIndex)
	if err != nil {
		return nil, err
	}

	sd.Additionals, err = d.rrSection(w.AdditionalIndex)
	if err != nil {
		return nil, err
	}

	return sd, nil
}

// question decodes w.
func (d *decoder) question(w questionWire) (q Question, err error) {
	q.Name, err = lookup(d.tables.NameRData, w.NameIndex, tableNameRData)
	if err != nil {
		return Question{}, err
	}

	q.ClassType, err = lookup(d.tables.ClassType, w.ClassTypeIndex, tableClassType)
	if err != nil {
		return Question{}, err
	}

	return q, nil
}

// rrSection decodes one resource-record section referenced by an rrlist
// index, nil meaning an absent section.
func (d *decoder) rrSection(idx *uint64) (rrs []RR, err error) {
	if idx == nil {
		return nil, nil
	}

	list, err := lookup(d.tables.RRList, *idx, tableRRList)
	if err != nil {
		return nil, err
	}

	rrs = make([]RR, 0, len(list))
	for _, ri := range list {
		rw, lookupErr := lookup(d.tables.RR, ri, tableRR)
		if lookupErr != nil {
			return nil, lookupErr
		}

		var rr RR
		rr, err = d.rr(rw)
		if err != nil {
			return nil, err
		}

		rrs = append(rrs, rr)
	}

	return rrs, nil
}

// rr decodes w.
func (d *decoder) rr(w *rrWire) (rr RR, err error) {
	rr.TTL = w.TTL

	rr.Name, err = lookup(d.tables.NameRData, w.NameIndex, tableNameRData)
	if err != nil {
		return RR{}, err
	}

	rr.ClassType, err = lookup(d.tables.ClassType, w.ClassTypeIndex, tableClassType)
	if err != nil {
		return RR{}, err
	}

	if i := w.RDataIndex; i != nil {
		rr.RData, err = lookup(d.tables.NameRData, *i, tableNameRData)
		if err != nil {
			return RR{}, err
		}
	}

	return rr, nil
}

// addressEvent decodes w.
func (d *decoder) addressEvent(w *addressEventWire) (ev *AddressEvent, err error) {
	ev = &AddressEvent{
		Type:           w.Type,
		Code:           w.Code,
		TransportFlags: w.TransportFlags,
		Count:          w.Count,
	}

	ev.Addr, err = lookup(d.tables.IPAddress, w.AddressIndex, tableIPAddress)
	if err != nil {
		return nil, err
	}

	return ev, nil
}

// malformedMessage decodes w.
func (d *decoder) malformedMessage(w *malformedMsgWire) (mm *MalformedMessage, err error) {
	mm = &MalformedMessage{
		ClientPort: w.ClientPort,
	}

	mm.Time, err = d.absTime(w.TimeOffset)
	if err != nil {
		return nil, err
	}

	if i := w.ClientAddressIndex; i != nil {
		mm.ClientAddr, err = lookup(d.tables.IPAddress, *i, tableIPAddress)
		if err != nil {
			return nil, err
		}
	}

	if i := w.MessageDataIndex; i != nil {
		dw, lookupErr := lookup(d.tables.MalformedMessageData, *i, tableMalformedData)
		if lookupErr != nil {
			return nil, lookupErr
		}

		mm.Data, err = d.malformedData(dw)
		if err != nil {
			return nil, err
		}
	}

	return mm, nil
}

// malformedData decodes w.
func (d *decoder) malformedData(w *malformedMsgDataWire) (md *MalformedMessageData, err error) {
	md = &MalformedMessageData{
		ServerPort:     w.ServerPort,
		TransportFlags: w.TransportFlags,
		Payload:        w.Payload,
	}

	if i := w.ServerAddressIndex; i != nil {
		md.ServerAddr, err = lookup(d.tables.IPAddress, *i, tableIPAddress)
		if err != nil {
			return nil, err
		}
	}

	return md, nil
}
