package flash

import "nrfhal/fstorage"

// kick starts the next queued write if the device is idle.
func (d *Device) kick() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current != nil {
		return
	}
	d.startNextLocked()
}

// wait arms the retry timer when the device is idle but the primitive is busy. The
// primitive stays busy until the completion handler returns, so a request queued in
// that window has no completion left to start it.
func (d *Device) wait() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		d.armRetryLocked()
	}
}

// startNextLocked pops one request and issues it. On failure the request goes to the
// back of the queue and the retry timer is armed. d.mu must be held.
func (d *Device) startNextLocked() {
	if d.current != nil {
		fatal("write start with a buffer in flight")
	}
	m := d.m
	req, ok := m.queue.pop()
	if !ok {
		return
	}

	d.current = req.buf
	res := m.issueWrite(req, d)
	if res == fstorage.Success {
		d.stopRetryLocked()
		return
	}

	d.current = nil
	if m.queue.push(req) {
		m.logf("flash: write 0x%08x (%d bytes) not started: %s; requeued", req.addr, req.size, res)
	} else {
		m.opts.Allocator.Free(req.buf)
		m.logf("flash: write 0x%08x (%d bytes) not started: %s; queue full, dropped", req.addr, req.size, res)
	}
	d.armRetryLocked()
}

// onWriteComplete runs in event context when the primitive finished the write
// issued by this device.
func (d *Device) onWriteComplete(evt fstorage.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		fatal("write completion with no buffer in flight")
	}
	d.m.opts.Allocator.Free(d.current)
	d.current = nil
	if evt.Result != fstorage.Success {
		d.recordLocked(storageError("write", evt.Addr, evt.Result))
	}
	d.startNextLocked()
}

// onEraseComplete restarts draining: writes queued while the erase kept the
// primitive busy have nobody else to start them.
func (d *Device) onEraseComplete(evt fstorage.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if evt.Result != fstorage.Success {
		d.recordLocked(storageError("erase", evt.Addr, evt.Result))
	}
	if d.current == nil {
		d.startNextLocked()
	}
}

func (d *Device) recordLocked(err error) {
	d.m.logf("%v", err)
	if d.asyncErr == nil {
		d.asyncErr = err
	}
}

func (d *Device) armRetryLocked() {
	iv := d.m.opts.RetryInterval
	if iv <= 0 || d.retry != nil {
		return
	}
	d.retry = d.m.opts.Clock.AfterFunc(iv, d.onRetry)
}

func (d *Device) onRetry() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.retry = nil
	if !d.m.Ready() || d.current != nil || d.m.queue.len() == 0 {
		return
	}
	if d.m.storage.IsBusy() {
		d.armRetryLocked()
		return
	}
	d.startNextLocked()
	d.m.notify()
}

func (d *Device) stopRetryLocked() {
	if d.retry != nil {
		d.retry.Stop()
		d.retry = nil
	}
}

func (d *Device) stopRetry() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopRetryLocked()
}
