package packet

import "sync"

// maxPooledBuffer caps the capacity of buffers returned to the pool so one
// large payload does not pin memory forever.
const maxPooledBuffer = 64 * 1024

var writerPool = sync.Pool{
	New: func() any {
		return &writer{buf: make([]byte, 0, 512)}
	},
}

func getWriter() *writer {
	w := writerPool.Get().(*writer)
	w.reset()
	return w
}

func putWriter(w *writer) {
	if cap(w.buf) > maxPooledBuffer {
		return
	}
	writerPool.Put(w)
}
