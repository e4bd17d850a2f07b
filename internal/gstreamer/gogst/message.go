package gogst

/*
#cgo pkg-config: gstreamer-1.0
#include <gst/gst.h>

static gboolean message_posted_by(GstMessage *msg, gpointer obj) {
    return GST_MESSAGE_SRC(msg) == GST_OBJECT(obj);
}
*/
import "C"

import (
	"unsafe"

	"github.com/go-gst/go-gst/gst"
)

// postedBy reports whether msg was posted by obj itself. Names are not
// unique across a bin hierarchy, so the source object is compared.
func postedBy(msg *gst.Message, obj *gst.Object) bool {
	if msg == nil || obj == nil {
		return false
	}
	return C.message_posted_by((*C.GstMessage)(unsafe.Pointer(msg.Instance())), C.gpointer(obj.Unsafe())) != 0
}
