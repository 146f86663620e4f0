package cdns

// Record Encoder
//
// The encoder lowers application records into their table-indexed wire form,
// interning every referenced value into the current block's tables and
// eliding absent fields.  The encoder validates a record against the active
// storage parameters before interning anything from it, so a rejected record
// leaves no trace in the block tables.

// encoder transforms application records into wire records against one open
// block.
type encoder struct {
	tables  *tableSet
	storage *StorageParameters
}

// newEncoder returns an encoder with fresh tables for one block stored under
// the given parameters.
func newEncoder(storage *StorageParameters) (e *encoder) {
	return &encoder{
		tables:  newTableSet(),
		storage: storage,
	}
}

// queryResponse encodes qr.  The time offset of the result is left unset;
// the block writer fills it once the block's earliest-time anchor is known
// at flush.
func (e *encoder) queryResponse(qr *QueryResponse) (w *qrWire, err error) {
	err = e.checkQueryResponse(qr)
	if err != nil {
		return nil, err
	}

	w = &qrWire{
		ClientPort:     qr.ClientPort,
		TransactionID:  qr.TransactionID,
		ClientHopLimit: qr.ClientHopLimit,
		QuerySize:      qr.QuerySize,
		ResponseSize:   qr.ResponseSize,
	}

	if qr.ClientAddr != nil {
		w.ClientAddressIndex = ptrTo(e.tables.ipAddress.intern(qr.ClientAddr))
	}

	if qr.Signature != nil {
		w.SignatureIndex = ptrTo(e.tables.signature.intern(e.signature(qr.Signature)))
	}

	if qr.ResponseDelay != nil {
		w.ResponseDelay = ptrTo(durationToTicks(*qr.ResponseDelay, e.storage.TicksPerSecond))
	}

	if qr.QueryName != nil {
		w.QueryNameIndex = ptrTo(e.tables.nameRData.intern(qr.QueryName))
	}

	if rp := qr.ResponseProcessing; rp != nil {
		w.ResponseProcessing = &respProcWire{Flags: rp.Flags}
		if rp.Bailiwick != nil {
			w.ResponseProcessing.BailiwickIndex = ptrTo(e.tables.nameRData.intern(rp.Bailiwick))
		}
	}

	if qr.QueryExtended != nil {
		w.QueryExtended = e.sections(qr.QueryExtended)
	}

	if qr.ResponseExtended != nil {
		w.ResponseExtended = e.sections(qr.ResponseExtended)
	}

	return w, nil
}

// checkQueryResponse validates qr against the storage parameters.
func (e *encoder) checkQueryResponse(qr *QueryResponse) (err error) {
	sig := qr.Signature
	if sig != nil {
		if op := sig.QueryOpcode; op != nil && !e.storage.allowsOpcode(*op) {
			return &PolicyError{Field: "query-opcode", Value: uint64(*op)}
		}

		err = checkFlags("qr-transport-flags", sig.TransportFlags, transportFlagsKnown)
		if err != nil {
			return err
		}

		err = checkFlags("qr-sig-flags", sig.Flags, qrFlagsKnown)
		if err != nil {
			return err
		}

		err = checkFlags("qr-dns-flags", sig.DNSFlags, dnsFlagsKnown)
		if err != nil {
			return err
		}
	}

	for _, sd := range []*SectionData{qr.QueryExtended, qr.ResponseExtended} {
		if sd == nil {
			continue
		}

		for _, rrs := range [][]RR{sd.Answers, sd.Authorities, sd.Additionals} {
			for _, rr := range rrs {
				if !e.storage.allowsRRType(rr.ClassType.Type) {
					return &PolicyError{Field: "rr-type", Value: uint64(rr.ClassType.Type)}
				}
			}
		}
	}

	return nil
}

// signature encodes sig into its wire form, interning the values it
// references.  The wire signature itself is interned by the caller.
func (e *encoder) signature(sig *Signature) (w *sigWire) {
	w = &sigWire{
		ServerPort:       sig.ServerPort,
		TransportFlags:   sig.TransportFlags,
		QRType:           sig.QRType,
		Flags:            sig.Flags,
		QueryOpcode:      sig.QueryOpcode,
		DNSFlags:         sig.DNSFlags,
		QueryRcode:       sig.QueryRcode,
		QueryQDCount:     sig.QueryQDCount,
		QueryANCount:     sig.QueryANCount,
		QueryNSCount:     sig.QueryNSCount,
		QueryARCount:     sig.QueryARCount,
		QueryEDNSVersion: sig.QueryEDNSVersion,
		QueryUDPSize:     sig.QueryUDPSize,
		ResponseRcode:    sig.ResponseRcode,
	}

	if sig.ServerAddr != nil {
		w.ServerAddressIndex = ptrTo(e.tables.ipAddress.intern(sig.ServerAddr))
	}

	if sig.QueryClassType != nil {
		w.QueryClassTypeIndex = ptrTo(e.tables.classType.intern(*sig.QueryClassType))
	}

	if sig.QueryOptRData != nil {
		w.QueryOptRDataIndex = ptrTo(e.tables.nameRData.intern(sig.QueryOptRData))
	}

	return w
}

// sections encodes the stored sections of one half of a pair, interning
// question and resource-record lists.
func (e *encoder) sections(sd *SectionData) (w *extendedWire) {
	w = &extendedWire{}

	if len(sd.Questions) > 0 {
		list := make([]uint64, 0, len(sd.Questions))
		for _, q := range sd.Questions {
			list = append(list, e.tables.question.intern(questionWire{
				NameIndex:      e.tables.nameRData.intern(q.Name),
				ClassTypeIndex: e.tables.classType.intern(q.ClassType),
			}))
		}

		w.QuestionIndex = ptrTo(e.tables.questionList.intern(list))
	}

	w.AnswerIndex = e.rrList(sd.Answers)
	w.AuthorityIndex = e.rrList(sd.Authorities)
	w.AdditionalIndex = e.rrList(sd.Additionals)

	return w
}

// rrList interns one resource-record section, returning the rrlist index or
// nil for an empty section.
func (e *encoder) rrList(rrs []RR) (idx *uint64) {
	if len(rrs) == 0 {
		return nil
	}

	list := make([]uint64, 0, len(rrs))
	for _, rr := range rrs {
		w := &rrWire{
			NameIndex:      e.tables.nameRData.intern(rr.Name),
			ClassTypeIndex: e.tables.classType.intern(rr.ClassType),
			TTL:            rr.TTL,
		}

		if rr.RData != nil {
			w.RDataIndex = ptrTo(e.tables.nameRData.intern(rr.RData))
		}

		list = append(list, e.tables.rr.intern(w))
	}

	return ptrTo(e.tables.rrList.intern(list))
}

// addressEvent encodes ev.
func (e *encoder) addressEvent(ev *AddressEvent) (w *addressEventWire, err error) {
	err = checkFlags("ae-transport-flags", ev.TransportFlags, transportFlagsKnown)
	if err != nil {
		return nil, err
	}

	return &addressEventWire{
		Type:           ev.Type,
		Code:           ev.Code,
		AddressIndex:   e.tables.ipAddress.intern(ev.Addr),
		TransportFlags: ev.TransportFlags,
		Count:          ev.Count,
	}, nil
}

// malformedMessage encodes mm.  As with query/response records, the time
// offset is filled at flush.
func (e *encoder) malformedMessage(mm *MalformedMessage) (w *malformedMsgWire, err error) {
	if d := mm.Data; d != nil {
		err = checkFlags("mm-transport-flags", d.TransportFlags, transportFlagsKnown)
		if err != nil {
			return nil, err
		}
	}

	w = &malformedMsgWire{
		ClientPort: mm.ClientPort,
	}

	if mm.ClientAddr != nil {
		w.ClientAddressIndex = ptrTo(e.tables.ipAddress.intern(mm.ClientAddr))
	}

	if d := mm.Data; d != nil {
		dw := &malformedMsgDataWire{
			ServerPort:     d.ServerPort,
			TransportFlags: d.TransportFlags,
			Payload:        d.Payload,
		}

		if d.ServerAddr != nil {
			dw.ServerAddressIndex = ptrTo(e.tables.ipAddress.intern(d.ServerAddr))
		}

		w.MessageDataIndex = ptrTo(e.tables.malformedData.intern(dw))
	}

	return w, nil
}

// checkFlags returns a [PolicyError] if f has bits set outside the known
// mask.  Nil flags are valid.
func checkFlags[T ~uint8 | ~uint16](field string, f *T, known T) (err error) {
	if f != nil && *f&^known != 0 {
		return &PolicyError{Field: field, Value: uint64(*f)}
	}

	return nil
}

// ptrTo returns a pointer to v.
func ptrTo[T any](v T) (p *T) { return &v }
