package service

import "bytes"

// lineFramer 增量行重组器。网络读取不会与SSE帧边界对齐，
// 未以换行结尾的尾部字节留到下一次读取再拼接
type lineFramer struct {
	carry []byte
}

// Feed 追加一段字节，返回其中完整的行（不含换行符）
func (f *lineFramer) Feed(p []byte) []string {
	f.carry = append(f.carry, p...)

	var lines []string
	for {
		idx := bytes.IndexByte(f.carry, '\n')
		if idx < 0 {
			return lines
		}
		lines = append(lines, string(bytes.TrimRight(f.carry[:idx], "\r")))
		f.carry = f.carry[idx+1:]
	}
}

// Rest 返回流结束时残留的未终结行
func (f *lineFramer) Rest() string {
	return string(f.carry)
}
