package browser

// observerJS installs the chat observer once per document. Records queue up
// in window.__livereply.q until drained.
const observerJS = `(listSel, inputSel) => {
	if (window.__livereply) return false;
	const st = { q: [], seen: new Set(), typing: false, timer: null, list: false, input: false };
	window.__livereply = st;

	const clean = (s) => (s || "").replace(/\s+/g, " ").trim();
	const push = (r) => { st.q.push(r); if (st.q.length > 1000) st.q.splice(0, st.q.length - 1000); };

	const indexOf = (li) => {
		const box = li.closest("div[data-index], div[data-item-index], div[data-known-size]");
		return box ? (box.getAttribute("data-index") || box.getAttribute("data-item-index")) : null;
	};

	const partsOf = (li) => {
		const parts = [];
		const pre = li.querySelector(".comment-text pre");
		if (pre) { const t = clean(pre.textContent); if (t) parts.push({ type: "text", text: t }); }
		for (const img of li.querySelectorAll("img")) {
			const src = img.getAttribute("src");
			if (src && !src.startsWith("data:")) parts.push({ type: "image", src });
		}
		for (const el of li.querySelectorAll("[aria-label]")) {
			const label = el.getAttribute("aria-label");
			if (label && label.length <= 20) parts.push({ type: "emoji", text: label });
		}
		const seen = new Set();
		return parts.filter((p) => { const k = JSON.stringify(p); if (seen.has(k)) return false; seen.add(k); return true; });
	};

	const extract = (li) => {
		if (li.querySelector(".comment-text")) {
			const parts = partsOf(li);
			if (!parts.length) return null;
			const thumb = li.querySelector("button.thumbnail");
			return { type: "chat", kind: "chat", user: clean(thumb && thumb.getAttribute("title")) || null, parts, idx: indexOf(li), ts: Date.now() };
		}
		const text = clean(li.textContent);
		if (!text || text.length > 200) return null;
		return { type: "chat", kind: "system", user: null, parts: [{ type: "text", text }], idx: indexOf(li), ts: Date.now() };
	};

	const onNode = (node) => {
		if (!node || node.nodeType !== 1) return;
		const lis = node.tagName.toLowerCase() === "li" ? [node] : Array.from(node.querySelectorAll("li"));
		for (const li of lis) {
			const r = extract(li);
			if (!r) continue;
			const key = r.kind + "|" + (r.idx || "na") + "|" + clean(r.parts.map((p) => p.text || "").join(" ")).slice(0, 40);
			if (st.seen.has(key)) continue;
			st.seen.add(key);
			if (st.seen.size > 500) { const it = st.seen.values(); for (let i = 0; i < 100; i++) st.seen.delete(it.next().value); }
			push(r);
		}
	};

	const attachList = () => {
		const root = document.querySelector(listSel);
		if (!root) return false;
		new MutationObserver((ms) => { for (const m of ms) if (m.type === "childList") m.addedNodes.forEach(onNode); })
			.observe(root, { childList: true, subtree: true });
		st.list = true;
		return true;
	};

	const end = () => {
		if (st.timer) { clearTimeout(st.timer); st.timer = null; }
		if (st.typing) { st.typing = false; push({ type: "typing", state: "end" }); }
	};
	const attachInput = () => {
		const input = document.querySelector(inputSel);
		if (!input) return false;
		const mark = (ev) => {
			if (!ev.isTrusted) return;
			if (!st.typing) { st.typing = true; push({ type: "typing", state: "start" }); }
			if (st.timer) clearTimeout(st.timer);
			st.timer = setTimeout(end, 1500);
		};
		for (const t of ["keydown", "input", "compositionstart", "compositionupdate", "compositionend"]) input.addEventListener(t, mark);
		input.addEventListener("blur", end);
		st.input = true;
		return true;
	};

	const retry = () => {
		if (!st.list) attachList();
		if (!st.input) attachInput();
		if (!st.list || !st.input) setTimeout(retry, 2000);
	};
	retry();
	return true;
}`

// drainJS returns and clears the queue, or null when the observer is gone
// (navigation replaced the document).
const drainJS = `() => {
	const st = window.__livereply;
	if (!st) return null;
	const out = st.q;
	st.q = [];
	return out;
}`

// sendJS types message into the chat input, submits it and restores the
// operator's draft. It returns an error string, empty on success.
const sendJS = `(inputSel, buttonSel, message) => {
	const input = document.querySelector(inputSel);
	if (!input) return "chat input not found";
	const setValue = (v) => {
		const desc = Object.getOwnPropertyDescriptor(Object.getPrototypeOf(input), "value");
		if (desc && typeof desc.set === "function") desc.set.call(input, v); else input.value = v;
		input.dispatchEvent(new Event("input", { bubbles: true, cancelable: true }));
	};
	const focused = document.activeElement === input;
	const draft = input.value, selStart = input.selectionStart, selEnd = input.selectionEnd;

	setValue(message);
	const btn = (buttonSel && document.querySelector(buttonSel)) ||
		Array.from(document.querySelectorAll("button")).find((b) => ["전송", "보내기"].includes((b.textContent || "").trim()));
	if (btn) {
		btn.click();
	} else {
		for (const type of ["keydown", "keyup"]) {
			input.dispatchEvent(new KeyboardEvent(type, { key: "Enter", code: "Enter", keyCode: 13, which: 13, bubbles: true, cancelable: true }));
		}
	}
	setTimeout(() => {
		setValue(draft);
		if (focused) {
			input.focus();
			if (typeof selStart === "number" && typeof selEnd === "number") input.setSelectionRange(selStart, selEnd);
		}
	}, 30);
	return "";
}`
